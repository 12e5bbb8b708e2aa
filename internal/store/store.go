// Package store owns durable conversation membership records. Every mutation
// is atomic: the Redis implementation runs an optimistic WATCH transaction,
// the in-process implementation holds a single mutex. Both enforce the same
// preconditions so tests written against one hold for the other.
package store

import (
	"context"
	"errors"

	"github.com/abiqua/relay-service/internal/domain/model"
)

var (
	ErrExists    = errors.New("store: conversation already exists")
	ErrNotFound  = errors.New("store: conversation not found")
	ErrNotActive = errors.New("store: conversation is closed")
	ErrFull      = errors.New("store: participant limit reached")
	ErrNotMember = errors.New("store: device is not a participant")

	// ErrTxRetries means optimistic-lock contention exhausted its retry
	// budget. Callers surface it as a transient backend failure, never as a
	// policy error.
	ErrTxRetries = errors.New("store: transaction retries exhausted")
)

// Storer is the membership-store capability. Implementations must keep every
// operation atomic, auto-close a conversation inside the same transaction
// that removes its last participant, and preserve remaining TTL on update.
type Storer interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Exists(ctx context.Context, id string) (bool, error)
	AddParticipant(ctx context.Context, id, deviceID string) (*model.Conversation, error)
	RemoveParticipant(ctx context.Context, id, deviceID string) (*model.Conversation, error)
	Update(ctx context.Context, id string, participants []string, state *model.ConversationState) (*model.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// Transient reports whether err is an infrastructure failure rather than a
// precondition violation.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrExists),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrFull),
		errors.Is(err, ErrNotMember):
		return false
	default:
		return true
	}
}

// applyAdd validates and applies a participant addition against the current
// record. Shared by both implementations so the precondition order is
// identical.
func applyAdd(conv *model.Conversation, deviceID string) (*model.Conversation, error) {
	if conv == nil {
		return nil, ErrNotFound
	}
	if !conv.IsActive() {
		return nil, ErrNotActive
	}
	if conv.HasParticipant(deviceID) {
		// Already a member; joining twice is a no-op.
		return conv.Clone(), nil
	}
	if len(conv.Participants) >= model.MaxGroupSize {
		return nil, ErrFull
	}
	next := conv.Clone()
	next.Participants = append(next.Participants, deviceID)
	return next, nil
}

// applyRemove validates and applies a participant removal, closing the
// conversation when the set empties.
func applyRemove(conv *model.Conversation, deviceID string) (*model.Conversation, error) {
	if conv == nil {
		return nil, ErrNotFound
	}
	if !conv.HasParticipant(deviceID) {
		return nil, ErrNotMember
	}
	next := conv.Clone()
	kept := next.Participants[:0]
	for _, p := range next.Participants {
		if p != deviceID {
			kept = append(kept, p)
		}
	}
	next.Participants = kept
	if len(next.Participants) == 0 {
		next.State = model.ConversationClosed
	}
	return next, nil
}

func applyUpdate(conv *model.Conversation, participants []string, state *model.ConversationState) (*model.Conversation, error) {
	if conv == nil {
		return nil, ErrNotFound
	}
	// Closed is terminal; a record never reopens.
	if conv.State == model.ConversationClosed && state != nil && *state == model.ConversationActive {
		return nil, ErrNotActive
	}
	next := conv.Clone()
	if participants != nil {
		next.Participants = participants
	}
	if state != nil {
		next.State = *state
	}
	if len(next.Participants) == 0 {
		next.State = model.ConversationClosed
	}
	return next, nil
}
