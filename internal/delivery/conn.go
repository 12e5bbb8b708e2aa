package delivery

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Interface guard
var _ Connector = (*conn)(nil)

// Connector is the transport surface for one live WebSocket session. The
// concrete type is unexported to force interface usage, which keeps the hub
// mockable in tests.
type Connector interface {
	DeviceID() string
	WriteFrame(v any) error
	Ping() error
	Close()
}

type conn struct {
	deviceID     string
	ws           *websocket.Conn
	writeTimeout time.Duration

	// writeMu serialises frames onto the socket: gorilla permits only one
	// concurrent writer.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewConnector(deviceID string, ws *websocket.Conn, writeTimeout time.Duration) Connector {
	return &conn{
		deviceID:     deviceID,
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *conn) DeviceID() string { return c.deviceID }

func (c *conn) WriteFrame(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

// Ping sends a control frame so the peer's pong refreshes the read deadline.
// gorilla allows WriteControl concurrently with other writes.
func (c *conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close tears down the socket exactly once, no matter how many of the hub,
// the read loop, and the handler defer race to call it.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
