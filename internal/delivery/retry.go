package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/observe"
)

// FrameSource is the retry engine's window into the pending map. A nil/false
// answer means the message is gone for this device (acknowledged, expired, or
// retired) and any timer for it must die quietly.
type FrameSource interface {
	PendingFrame(msgID, deviceID string) (*model.Frame, bool)
	Ack(msgID, deviceID string) bool
}

// Acker is what the WS read loop feeds inbound ack frames into.
type Acker interface {
	HandleAck(deviceID, msgID, convID string)
}

// Interface guard
var _ Acker = (*RetryEngine)(nil)

type trackKey struct {
	msgID    string
	deviceID string
}

type track struct {
	attempts int
	sentAt   time.Time
	timer    *time.Timer
}

// RetryEngine tracks every outbound WebSocket send and drives the ACK
// timeout / retry / failure ladder. Timers are independent per (message,
// recipient) and always cancellable; shutdown cancels them all.
type RetryEngine struct {
	mu      sync.Mutex
	tracks  map[trackKey]*track
	stopped bool

	hub    *Hub
	frames FrameSource
	rec    observe.Recorder
	logger *slog.Logger
	config retryConfig
}

func NewRetryEngine(hub *Hub, frames FrameSource, rec observe.Recorder, logger *slog.Logger, opts ...RetryOption) *RetryEngine {
	e := &RetryEngine{
		tracks: make(map[trackKey]*track),
		hub:    hub,
		frames: frames,
		rec:    rec,
		logger: logger,
		config: defaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrackSend arms the ACK timer for a frame that just hit the wire. On a
// retry the existing attempt count carries over; only the timer resets.
func (e *RetryEngine) TrackSend(deviceID string, frame *model.Frame) {
	key := trackKey{msgID: frame.ID, deviceID: deviceID}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	t, ok := e.tracks[key]
	if !ok {
		t = &track{}
		e.tracks[key] = t
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.sentAt = time.Now()
	t.timer = time.AfterFunc(e.config.ackTimeout, func() {
		e.onAckTimeout(key)
	})
}

// HandleAck retires the timer, removes the device from the message's
// remaining recipients, and notifies a connected sender.
func (e *RetryEngine) HandleAck(deviceID, msgID, convID string) {
	key := trackKey{msgID: msgID, deviceID: deviceID}

	e.mu.Lock()
	if t, ok := e.tracks[key]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.tracks, key)
	}
	e.mu.Unlock()

	frame, pending := e.frames.PendingFrame(msgID, deviceID)
	if !e.frames.Ack(msgID, deviceID) {
		e.logger.Debug("ack for unknown message", "message_id", msgID, "device_id", deviceID)
		return
	}

	// Tell a connected sender the recipient has the message.
	if pending && frame.SenderID != "" {
		e.hub.Enqueue(frame.SenderID, &model.AckFrame{
			Type:           FrameAckStatus,
			MessageID:      msgID,
			ConversationID: convID,
			Status:         "delivered",
			RecipientID:    deviceID,
		})
	}
}

// FrameAckStatus is the frame type used to forward delivery confirmations to
// senders.
const FrameAckStatus = "ack"

func (e *RetryEngine) onAckTimeout(key trackKey) {
	frame, ok := e.frames.PendingFrame(key.msgID, key.deviceID)
	if !ok {
		// Acknowledged or expired since the timer was armed. Expiration
		// always overrides retry.
		e.drop(key)
		return
	}

	e.mu.Lock()
	t, tracked := e.tracks[key]
	if !tracked || e.stopped {
		e.mu.Unlock()
		return
	}
	t.attempts++
	attempts := t.attempts

	if attempts >= e.config.maxRetries {
		delete(e.tracks, key)
		e.mu.Unlock()

		e.logger.Warn("delivery retries exhausted",
			"message_id", key.msgID, "device_id", key.deviceID, "attempts", attempts)
		e.rec.Record(context.Background(), &observe.Event{
			Type:    observe.EventDeliveryFailed,
			ActorID: key.deviceID,
			Data: map[string]any{
				"message_id": key.msgID,
				"attempts":   attempts,
			},
		})
		return
	}

	delay := e.backoff(attempts)
	t.timer = time.AfterFunc(delay, func() {
		e.resend(key, frame)
	})
	e.mu.Unlock()
}

func (e *RetryEngine) resend(key trackKey, frame *model.Frame) {
	if _, ok := e.frames.PendingFrame(key.msgID, key.deviceID); !ok {
		e.drop(key)
		return
	}
	// A successful write re-arms the ACK timer via the sent hook. If the
	// device went offline, stop tracking and let the next poll serve it.
	if !e.hub.IsConnected(key.deviceID) || !e.hub.Enqueue(key.deviceID, frame) {
		e.drop(key)
	}
}

// backoff doubles per attempt from the base, capped.
func (e *RetryEngine) backoff(attempts int) time.Duration {
	d := e.config.backoffBase << (attempts - 1)
	if d > e.config.backoffCap || d <= 0 {
		return e.config.backoffCap
	}
	return d
}

func (e *RetryEngine) drop(key trackKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracks[key]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.tracks, key)
	}
}

// Tracking reports whether a send is currently awaiting ACK. Test hook.
func (e *RetryEngine) Tracking(msgID, deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tracks[trackKey{msgID: msgID, deviceID: deviceID}]
	return ok
}

// Shutdown cancels every pending timer. No timer survives process stop.
func (e *RetryEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for key, t := range e.tracks {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.tracks, key)
	}
}
