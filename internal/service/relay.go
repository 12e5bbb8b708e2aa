package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abiqua/relay-service/internal/delivery"
	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
)

var (
	ErrSenderInactive      = errors.New("service: sender is not an active device")
	ErrNoRecipients        = errors.New("service: no active recipients available")
	ErrTooManyRecipients   = errors.New("service: recipient limit exceeded")
	ErrPayloadTooLarge     = errors.New("service: payload size exceeded")
	ErrExpirationNotFuture = errors.New("service: expiration is not in the future")
)

// Relayer is the relay-core capability: accept an encrypted payload, keep it
// pending until every recipient acknowledges or it expires, serve REST polls.
type Relayer interface {
	Relay(ctx context.Context, senderID, convID string, payload []byte, recipients []string, expiresAt time.Time) (*model.Message, error)
	Poll(deviceID, lastReceivedID string) []*model.Frame
	Ack(msgID, deviceID string) bool
	PendingFrame(msgID, deviceID string) (*model.Frame, bool)
	PendingForDevice(deviceID string) []*model.Frame
	HasPending(msgID string) bool
}

// Interface guards
var (
	_ Relayer              = (*Relay)(nil)
	_ delivery.FrameSource = (*Relay)(nil)
)

// entry pairs a pending message with its own mutex so recipient-set mutation
// never serialises against unrelated messages.
type entry struct {
	mu  sync.Mutex
	msg *model.Message
}

// Relay owns the in-memory pending map. Nothing here survives process stop;
// that is a design property, not a limitation.
type Relay struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order for deterministic polling

	devices registry.Identifier
	hub     delivery.Hubber
	rec     observe.Recorder
	logger  *slog.Logger
	clock   func() time.Time
}

func NewRelay(devices registry.Identifier, hub delivery.Hubber, rec observe.Recorder, logger *slog.Logger) *Relay {
	return &Relay{
		entries: make(map[string]*entry),
		devices: devices,
		hub:     hub,
		rec:     rec,
		logger:  logger,
		clock:   time.Now,
	}
}

// Relay accepts one encrypted payload for a recipient set. Recipients that
// are no longer active are dropped; if none remain the send is rejected.
// Connected recipients get an immediate push, the rest wait for polling.
func (r *Relay) Relay(ctx context.Context, senderID, convID string, payload []byte, recipients []string, expiresAt time.Time) (*model.Message, error) {
	now := r.clock()

	if !r.devices.IsActive(senderID) {
		return nil, ErrSenderInactive
	}
	if len(payload) > model.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	if !expiresAt.After(now) {
		return nil, ErrExpirationNotFuture
	}
	if len(recipients) > model.MaxGroupSize {
		return nil, ErrTooManyRecipients
	}

	// Expiration defaults to seven days and the request may only shorten it.
	if limit := now.Add(model.DefaultMessageTTL); expiresAt.After(limit) {
		expiresAt = limit
	}

	remaining := make(map[string]struct{}, len(recipients))
	for _, dev := range recipients {
		if dev != senderID && r.devices.IsActive(dev) {
			remaining[dev] = struct{}{}
		}
	}
	if len(remaining) == 0 {
		return nil, ErrNoRecipients
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Payload:        payload,
		Recipients:     remaining,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	r.mu.Lock()
	r.entries[msg.ID] = &entry{msg: msg}
	r.order = append(r.order, msg.ID)
	r.mu.Unlock()

	r.rec.Record(ctx, &observe.Event{
		Type:    observe.EventMessageAttempted,
		ActorID: senderID,
		Data: map[string]any{
			"message_id":      msg.ID,
			"conversation_id": convID,
			"recipient_count": len(remaining),
		},
	})

	for dev := range remaining {
		if r.hub.IsConnected(dev) {
			r.hub.Enqueue(dev, model.NewFrame(msg))
		}
	}
	return msg, nil
}

// Poll is the REST fallback: one non-blocking scan returning, in insertion
// order, every frame still pending for the device after the given cursor.
func (r *Relay) Poll(deviceID, lastReceivedID string) []*model.Frame {
	now := r.clock()

	r.mu.RLock()
	order := slices.Clone(r.order)
	r.mu.RUnlock()

	start := 0
	if lastReceivedID != "" {
		if i := slices.Index(order, lastReceivedID); i >= 0 {
			start = i + 1
		}
	}

	var frames []*model.Frame
	for _, id := range order[start:] {
		r.mu.RLock()
		e := r.entries[id]
		r.mu.RUnlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		if !e.msg.Expired(now) && e.msg.PendingFor(deviceID) {
			frames = append(frames, model.NewFrame(e.msg))
		}
		e.mu.Unlock()
	}
	return frames
}

// Ack removes the device from the remaining-recipient set, retiring the
// message when the set empties. False means the message is unknown, already
// acknowledged, or expired.
func (r *Relay) Ack(msgID, deviceID string) bool {
	r.mu.RLock()
	e := r.entries[msgID]
	r.mu.RUnlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.msg.Expired(r.clock()) || !e.msg.PendingFor(deviceID) {
		e.mu.Unlock()
		return false
	}
	delete(e.msg.Recipients, deviceID)
	empty := len(e.msg.Recipients) == 0
	e.mu.Unlock()

	if empty {
		r.remove(msgID)
	}
	return true
}

// PendingFrame answers the retry engine: the frame if the message is still
// awaiting this device, else false. An expired message is gone regardless of
// remaining retry budget.
func (r *Relay) PendingFrame(msgID, deviceID string) (*model.Frame, bool) {
	r.mu.RLock()
	e := r.entries[msgID]
	r.mu.RUnlock()
	if e == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.msg.Expired(r.clock()) || !e.msg.PendingFor(deviceID) {
		return nil, false
	}
	return model.NewFrame(e.msg), true
}

// PendingForDevice lists the frames waiting for a device, oldest first. Used
// to flush backlog when a device reconnects.
func (r *Relay) PendingForDevice(deviceID string) []*model.Frame {
	return r.Poll(deviceID, "")
}

func (r *Relay) HasPending(msgID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[msgID] != nil
}

// Sweep drops every expired entry. It takes no lock for longer than one map
// access at a time, so concurrent relay/ack calls never stall behind it.
func (r *Relay) Sweep(now time.Time) int {
	r.mu.RLock()
	ids := slices.Clone(r.order)
	r.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		r.mu.RLock()
		e := r.entries[id]
		r.mu.RUnlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		expired := e.msg.Expired(now)
		e.mu.Unlock()

		if expired {
			r.remove(id)
			removed++
		}
	}

	// Compact the order slice so retired identifiers do not accumulate.
	// Messages relayed mid-sweep are already in the map and survive.
	r.mu.Lock()
	compacted := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.entries[id]; ok {
			compacted = append(compacted, id)
		}
	}
	r.order = compacted
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Debug("expired messages swept", "count", removed)
	}
	return removed
}

func (r *Relay) remove(msgID string) {
	r.mu.Lock()
	delete(r.entries, msgID)
	r.mu.Unlock()
}
