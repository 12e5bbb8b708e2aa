package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/abiqua/relay-service/internal/domain/model"
)

// Interface guard
var _ Conversationer = (*conversationMiddleware)(nil)

// conversationMiddleware wraps the conversation service with latency logging.
// Installed via fx.Decorate so callers stay unaware of it.
type conversationMiddleware struct {
	next   Conversationer
	logger *slog.Logger
}

func (m *conversationMiddleware) observe(op, convID string, start time.Time, err error) {
	m.logger.Debug("conversation op",
		"op", op,
		"conversation_id", convID,
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil,
	)
}

func (m *conversationMiddleware) Create(ctx context.Context, creatorID string, participants []string) (*model.Conversation, error) {
	start := time.Now()
	conv, err := m.next.Create(ctx, creatorID, participants)
	id := ""
	if conv != nil {
		id = conv.ID
	}
	m.observe("create", id, start, err)
	return conv, err
}

func (m *conversationMiddleware) Join(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	start := time.Now()
	conv, err := m.next.Join(ctx, deviceID, convID)
	m.observe("join", convID, start, err)
	return conv, err
}

func (m *conversationMiddleware) Leave(ctx context.Context, deviceID, convID string) (*model.Conversation, bool, error) {
	start := time.Now()
	conv, closed, err := m.next.Leave(ctx, deviceID, convID)
	m.observe("leave", convID, start, err)
	return conv, closed, err
}

func (m *conversationMiddleware) Close(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	start := time.Now()
	conv, err := m.next.Close(ctx, deviceID, convID)
	m.observe("close", convID, start, err)
	return conv, err
}

func (m *conversationMiddleware) Info(ctx context.Context, deviceID, convID string) (*model.Conversation, error) {
	return m.next.Info(ctx, deviceID, convID)
}

func (m *conversationMiddleware) Participants(ctx context.Context, convID string) ([]string, error) {
	return m.next.Participants(ctx, convID)
}
