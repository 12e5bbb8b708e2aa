// Package ws upgrades authenticated devices onto the push channel: backlog
// flush on connect, then an inbound read loop that only understands ACK
// frames. Everything outbound goes through the delivery hub.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/abiqua/relay-service/config"
	"github.com/abiqua/relay-service/internal/delivery"
	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/service"
)

const (
	// closePolicyViolation is sent when a non-readable device tries to attach.
	closePolicyViolation = websocket.ClosePolicyViolation

	readLimit    = 4 * 1024
	pongWait     = 90 * time.Second
	closeTimeout = 2 * time.Second
)

type WSHandler struct {
	logger   *slog.Logger
	devices  registry.Identifier
	hub      delivery.Hubber
	acker    delivery.Acker
	relay    service.Relayer
	cfg      *config.Config
	upgrader websocket.Upgrader

	writeTimeout time.Duration
	pongWait     time.Duration
}

func NewWSHandler(
	logger *slog.Logger,
	cfg *config.Config,
	devices registry.Identifier,
	hub *delivery.Hub,
	acker delivery.Acker,
	relay service.Relayer,
) *WSHandler {
	h := &WSHandler{
		logger:       logger,
		devices:      devices,
		hub:          hub,
		acker:        acker,
		relay:        relay,
		cfg:          cfg,
		writeTimeout: hub.WriteTimeout(),
		pongWait:     pongWait,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.cfg.Development() || h.cfg.FrontendOrigin == "" {
		return true
	}
	return r.Header.Get("Origin") == h.cfg.FrontendOrigin
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id required", http.StatusBadRequest)
		return
	}

	if h.cfg.Development() || h.cfg.DemoMode {
		h.devices.EnsureDevice(deviceID)
	}
	h.devices.Touch(deviceID)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	// Policy check after the upgrade so the client gets a proper close code
	// instead of a dropped handshake.
	if !h.devices.CanRead(deviceID) {
		h.closeWith(ws, closePolicyViolation, "device not active")
		_ = ws.Close()
		return
	}

	conn := delivery.NewConnector(deviceID, ws, h.writeTimeout)
	h.hub.Connect(deviceID, conn)
	defer h.hub.Disconnect(deviceID)

	h.logger.Info("ws opened", "device_id", deviceID)

	// Flush everything that queued up while the device was offline. Each
	// successful write arms its own ACK timer.
	for _, frame := range h.relay.PendingForDevice(deviceID) {
		h.hub.Enqueue(deviceID, frame)
	}

	stop := make(chan struct{})
	go h.pingLoop(deviceID, conn, stop)

	h.readLoop(ws, deviceID)
	close(stop)
	h.logger.Info("ws closed", "device_id", deviceID)
}

// pingLoop keeps an idle but healthy session alive: the client's automatic
// pong answer refreshes the read deadline armed in readLoop. Without it a
// quiet device would be dropped after pongWait and silently fall back to
// polling.
func (h *WSHandler) pingLoop(deviceID string, c delivery.Connector, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				// Closing the socket unblocks readLoop, whose deferred
				// Disconnect evicts this session; evicting by device id
				// here could displace a newer session instead.
				h.logger.Debug("ping failed, dropping session",
					"device_id", deviceID, "error", err)
				c.Close()
				return
			}
		}
	}
}

// readLoop pumps inbound frames until the socket dies. ACKs feed the retry
// engine; anything else is discarded.
func (h *WSHandler) readLoop(ws *websocket.Conn, deviceID string) {
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("ws read ended", "device_id", deviceID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))

		var frame model.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("unparseable inbound frame dropped", "device_id", deviceID)
			continue
		}

		switch frame.Type {
		case model.FrameTypeAck:
			if frame.MessageID == "" {
				continue
			}
			h.devices.Touch(deviceID)
			h.acker.HandleAck(deviceID, frame.MessageID, frame.ConversationID)
		default:
			h.logger.Debug("unknown inbound frame type dropped",
				"device_id", deviceID, "type", frame.Type)
		}
	}
}

func (h *WSHandler) closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
}
