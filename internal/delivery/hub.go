/*
Package delivery implements the push side of the relay: a connection table
mapping device identifiers to live WebSocket sessions, an asynchronous send
queue drained by a dedicated worker, and the per-send ACK tracking with
exponential-backoff retries.

Enqueueing only means the frame was queued. Delivery is evidenced solely by
the recipient's ACK; callers must never treat a true return from Enqueue as
proof a device received anything.
*/
package delivery

import (
	"log/slog"
	"sync"

	"github.com/abiqua/relay-service/internal/domain/model"
)

// Hubber is the delivery-channel capability consumed by the relay core and
// the WS handler.
type Hubber interface {
	Connect(deviceID string, c Connector)
	Disconnect(deviceID string)
	IsConnected(deviceID string) bool
	Enqueue(deviceID string, frame any) bool
}

// Interface guard
var _ Hubber = (*Hub)(nil)

type sendJob struct {
	deviceID string
	frame    any
}

type Hub struct {
	mu    sync.RWMutex
	conns map[string]Connector

	queue chan sendJob
	done  chan struct{}
	wg    sync.WaitGroup

	// onSent fires after a message frame is written to a socket; the retry
	// engine hangs its ACK timer off it. Guarded by mu: registration happens
	// after the drain worker has started.
	onSent func(deviceID string, frame *model.Frame)

	logger *slog.Logger
	config hubConfig
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		conns:  make(map[string]Connector),
		logger: logger,
		config: defaultHubConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.queue = make(chan sendJob, h.config.queueSize)
	h.done = make(chan struct{})

	h.wg.Add(1)
	go h.drain()
	return h
}

// OnSent registers the sent hook. Wired once at startup.
func (h *Hub) OnSent(fn func(deviceID string, frame *model.Frame)) {
	h.mu.Lock()
	h.onSent = fn
	h.mu.Unlock()
}

// Connect attaches a session, displacing any previous one for the device.
func (h *Hub) Connect(deviceID string, c Connector) {
	h.mu.Lock()
	prev := h.conns[deviceID]
	h.conns[deviceID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	h.logger.Debug("device connected", "device_id", deviceID)
}

func (h *Hub) Disconnect(deviceID string) {
	h.mu.Lock()
	c := h.conns[deviceID]
	delete(h.conns, deviceID)
	h.mu.Unlock()

	if c != nil {
		c.Close()
		h.logger.Debug("device disconnected", "device_id", deviceID)
	}
}

func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[deviceID]
	return ok
}

// Enqueue pushes a frame onto the send queue without blocking. False means
// the queue is saturated or the hub is stopping; the message simply stays
// pending for REST polling.
func (h *Hub) Enqueue(deviceID string, frame any) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.queue <- sendJob{deviceID: deviceID, frame: frame}:
		return true
	default:
		h.logger.Warn("send queue saturated, frame dropped", "device_id", deviceID)
		return false
	}
}

// drain is the single delivery worker. A write failure evicts the connection
// and leaves the message pending; polling or a retry picks it up later.
func (h *Hub) drain() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case job := <-h.queue:
			h.deliver(job)
		}
	}
}

func (h *Hub) deliver(job sendJob) {
	h.mu.RLock()
	c := h.conns[job.deviceID]
	sent := h.onSent
	h.mu.RUnlock()

	if c == nil {
		return
	}

	if err := c.WriteFrame(job.frame); err != nil {
		h.logger.Warn("socket write failed, evicting connection",
			"device_id", job.deviceID, "error", err)
		h.Disconnect(job.deviceID)
		return
	}

	if f, ok := job.frame.(*model.Frame); ok && sent != nil {
		sent(job.deviceID, f)
	}
}

// Shutdown stops the worker and closes every session.
func (h *Hub) Shutdown() {
	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Connector)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
