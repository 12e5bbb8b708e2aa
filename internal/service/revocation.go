package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/store"
)

// RevocationImpact is returned to the Controller with the revoke response;
// propagation completes before the response is written.
type RevocationImpact struct {
	Device                *model.Device
	AlreadyRevoked        bool
	AffectedConversations int
	ConversationsClosed   int
}

// Revoker revokes a device and cascades the removal through every
// conversation it belongs to.
type Revoker interface {
	Revoke(ctx context.Context, deviceID, controllerID string) (*RevocationImpact, error)
}

// Interface guard
var _ Revoker = (*RevocationService)(nil)

type RevocationService struct {
	devices registry.Identifier
	store   store.Storer
	index   *store.Index
	rec     observe.Recorder
	logger  *slog.Logger
}

func NewRevocationService(devices registry.Identifier, st store.Storer, index *store.Index, rec observe.Recorder, logger *slog.Logger) *RevocationService {
	return &RevocationService{
		devices: devices,
		store:   st,
		index:   index,
		rec:     rec,
		logger:  logger,
	}
}

// Revoke flips the registry state and then walks the reverse-index candidate
// set, removing the device from each conversation. Already-revoked devices
// re-run propagation and return success, so controllers can retry safely.
func (s *RevocationService) Revoke(ctx context.Context, deviceID, controllerID string) (*RevocationImpact, error) {
	device, already, err := s.devices.Revoke(deviceID, controllerID)
	if err != nil {
		return nil, err
	}

	impact := &RevocationImpact{Device: device, AlreadyRevoked: already}
	s.propagate(ctx, deviceID, impact)

	s.rec.Record(ctx, &observe.Event{
		Type:    observe.EventDeviceRevoked,
		ActorID: deviceID,
		Data: map[string]any{
			"affected_conversations": impact.AffectedConversations,
			"conversations_closed":   impact.ConversationsClosed,
			"already_revoked":        already,
		},
	})
	return impact, nil
}

// propagate removes the device from every candidate conversation. The index
// is advisory, so candidates that turn out to be expired or stale are
// discarded silently rather than treated as failures.
func (s *RevocationService) propagate(ctx context.Context, deviceID string, impact *RevocationImpact) {
	for _, convID := range s.index.Conversations(deviceID) {
		ok, err := s.store.Exists(ctx, convID)
		if err != nil {
			s.logger.Warn("revocation scan skipped conversation",
				"conversation_id", convID, "error", err)
			continue
		}
		if !ok {
			s.index.Drop(convID)
			continue
		}

		conv, err := s.store.RemoveParticipant(ctx, convID, deviceID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.index.Drop(convID)
		case errors.Is(err, store.ErrNotMember):
			s.index.Remove(deviceID, convID)
		case err != nil:
			s.logger.Error("revocation removal failed",
				"conversation_id", convID, "device_id", deviceID, "error", err)
		default:
			s.index.Observe(conv)
			impact.AffectedConversations++
			if conv.State == model.ConversationClosed {
				impact.ConversationsClosed++
			}
		}
	}
}
