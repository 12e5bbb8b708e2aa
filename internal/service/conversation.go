package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/store"
)

var (
	ErrParticipantsRequired  = errors.New("service: participants are required")
	ErrGroupSizeExceeded     = errors.New("service: participant limit exceeded")
	ErrParticipantNotActive  = errors.New("service: all participants must be provisioned devices")
	ErrNotParticipant        = errors.New("service: device is not a participant")
	ErrConversationNotActive = errors.New("service: conversation is closed")
)

// Conversationer is the conversation-lifecycle capability behind the API.
type Conversationer interface {
	Create(ctx context.Context, creatorID string, participants []string) (*model.Conversation, error)
	Join(ctx context.Context, deviceID, convID string) (*model.Conversation, error)
	Leave(ctx context.Context, deviceID, convID string) (*model.Conversation, bool, error)
	Close(ctx context.Context, deviceID, convID string) (*model.Conversation, error)
	Info(ctx context.Context, deviceID, convID string) (*model.Conversation, error)
	Participants(ctx context.Context, convID string) ([]string, error)
}

// Interface guard
var _ Conversationer = (*ConversationService)(nil)

type ConversationService struct {
	devices  registry.Identifier
	store    store.Storer
	index    *store.Index
	rec      observe.Recorder
	demoMode bool
	clock    func() time.Time
}

func NewConversationService(devices registry.Identifier, st store.Storer, index *store.Index, rec observe.Recorder, demoMode bool) *ConversationService {
	return &ConversationService{
		devices:  devices,
		store:    st,
		index:    index,
		rec:      rec,
		demoMode: demoMode,
		clock:    time.Now,
	}
}

// Create opens a conversation with the caller injected into the participant
// set. Every proposed participant must be an active device.
func (s *ConversationService) Create(ctx context.Context, creatorID string, participants []string) (*model.Conversation, error) {
	if len(participants) == 0 {
		return nil, ErrParticipantsRequired
	}

	members := slices.Clone(participants)
	if !slices.Contains(members, creatorID) {
		members = append(members, creatorID)
	}
	if len(members) > model.MaxGroupSize {
		return nil, ErrGroupSizeExceeded
	}
	for _, dev := range members {
		if !s.devices.IsActive(dev) {
			return nil, fmt.Errorf("%w: %s", ErrParticipantNotActive, dev)
		}
	}

	now := s.clock()
	conv := &model.Conversation{
		ID:             uuid.NewString(),
		Participants:   members,
		State:          model.ConversationActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := s.store.Create(ctx, conv); err != nil {
		if errors.Is(err, store.ErrExists) {
			existing, gerr := s.store.Get(ctx, conv.ID)
			if gerr == nil && existing.IsActive() {
				return existing, nil
			}
			return nil, ErrConversationNotActive
		}
		return nil, err
	}
	s.index.Observe(conv)

	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventConversationCreated,
		ActorID: creatorID,
		Data: map[string]any{
			"conversation_id":   conv.ID,
			"participant_count": len(conv.Participants),
		},
	})
	return conv, nil
}

// Join adds the caller. Under demo mode an unknown conversation is created
// on the fly with the caller as sole participant.
func (s *ConversationService) Join(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	conv, err := s.store.AddParticipant(ctx, convID, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && s.demoMode {
			return s.autoCreate(ctx, deviceID, convID)
		}
		return nil, err
	}
	s.index.Observe(conv)

	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventConversationParticipantJoined,
		ActorID: deviceID,
		Data: map[string]any{
			"conversation_id":   conv.ID,
			"participant_count": len(conv.Participants),
		},
	})
	return conv, nil
}

func (s *ConversationService) autoCreate(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	now := s.clock()
	conv := &model.Conversation{
		ID:             convID,
		Participants:   []string{deviceID},
		State:          model.ConversationActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Create(ctx, conv); err != nil {
		if errors.Is(err, store.ErrExists) {
			// Lost a race with another creator; join the winner's record.
			return s.store.AddParticipant(ctx, convID, deviceID)
		}
		return nil, err
	}
	s.index.Observe(conv)

	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventConversationCreated,
		ActorID: deviceID,
		Data: map[string]any{
			"conversation_id":   convID,
			"participant_count": 1,
			"demo_auto_create":  true,
		},
	})
	return conv, nil
}

// Leave removes the caller; the second return reports whether the removal
// closed the conversation.
func (s *ConversationService) Leave(ctx context.Context, deviceID, convID string) (*model.Conversation, bool, error) {
	conv, err := s.store.RemoveParticipant(ctx, convID, deviceID)
	if err != nil {
		return nil, false, err
	}
	s.index.Observe(conv)
	closed := conv.State == model.ConversationClosed

	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventConversationParticipantLeft,
		ActorID: deviceID,
		Data: map[string]any{
			"conversation_id":   conv.ID,
			"participant_count": len(conv.Participants),
		},
	})
	if closed {
		s.recordClosed(ctx, deviceID, convID)
	}
	return conv, closed, nil
}

// Close is idempotent: closing a closed conversation succeeds without effect.
// The caller must be a participant (or a revoked former one).
func (s *ConversationService) Close(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(deviceID) {
		if d, ok := s.devices.Get(deviceID); !ok || !d.IsRevoked() {
			return nil, ErrNotParticipant
		}
	}
	if conv.State == model.ConversationClosed {
		return conv, nil
	}

	closed := model.ConversationClosed
	conv, err = s.store.Update(ctx, convID, nil, &closed)
	if err != nil {
		return nil, err
	}
	s.index.Observe(conv)
	s.recordClosed(ctx, deviceID, convID)
	return conv, nil
}

// Info serves participants and revoked former participants; everyone else is
// denied without learning whether the conversation exists.
func (s *ConversationService) Info(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(deviceID) {
		d, ok := s.devices.Get(deviceID)
		if !ok || !d.IsRevoked() {
			return nil, ErrNotParticipant
		}
	}
	s.index.Observe(conv)
	return conv, nil
}

// Participants returns the member set, reconciling the reverse index as a
// side effect of the read.
func (s *ConversationService) Participants(ctx context.Context, convID string) ([]string, error) {
	conv, err := s.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	s.index.Observe(conv)
	if !conv.IsActive() {
		return nil, ErrConversationNotActive
	}
	return conv.Participants, nil
}

func (s *ConversationService) recordClosed(ctx context.Context, actorID, convID string) {
	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventConversationClosed,
		ActorID: actorID,
		Data: map[string]any{
			"conversation_id": convID,
		},
	})
}
