package store

import (
	"context"
	"sync"
	"time"

	"github.com/abiqua/relay-service/internal/domain/model"
)

// Interface guard
var _ Storer = (*MemoryStore)(nil)

// MemoryStore is the in-process backend used when no Redis URL is configured
// (development and tests). It emulates per-record TTL with deadlines so the
// expiry semantics match the durable backend.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*memRecord
	defaultTTL time.Duration
	clock      func() time.Time
}

type memRecord struct {
	conv      *model.Conversation
	expiresAt time.Time
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*memRecord),
		defaultTTL: defaultTTL,
		clock:      time.Now,
	}
}

// load returns the live record or nil if missing/expired. Caller holds mu.
func (s *MemoryStore) load(id string) *memRecord {
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	if !s.clock().Before(rec.expiresAt) {
		delete(s.records, id)
		return nil
	}
	return rec
}

func (s *MemoryStore) Create(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.load(conv.ID) != nil {
		return ErrExists
	}
	next := conv.Clone()
	next.LastActivityAt = s.clock()
	s.records[conv.ID] = &memRecord{
		conv:      next,
		expiresAt: s.clock().Add(s.defaultTTL),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.conv.Clone(), nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id) != nil, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, id, deviceID string) (*model.Conversation, error) {
	return s.mutate(id, func(cur *model.Conversation) (*model.Conversation, error) {
		return applyAdd(cur, deviceID)
	})
}

func (s *MemoryStore) RemoveParticipant(_ context.Context, id, deviceID string) (*model.Conversation, error) {
	return s.mutate(id, func(cur *model.Conversation) (*model.Conversation, error) {
		return applyRemove(cur, deviceID)
	})
}

func (s *MemoryStore) Update(_ context.Context, id string, participants []string, state *model.ConversationState) (*model.Conversation, error) {
	return s.mutate(id, func(cur *model.Conversation) (*model.Conversation, error) {
		return applyUpdate(cur, participants, state)
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// mutate applies fn under the lock, preserving the record's remaining TTL the
// same way the durable backend does.
func (s *MemoryStore) mutate(id string, fn func(cur *model.Conversation) (*model.Conversation, error)) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(id)
	var cur *model.Conversation
	if rec != nil {
		cur = rec.conv
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	next.LastActivityAt = s.clock()

	expiresAt := s.clock().Add(s.defaultTTL)
	if rec != nil {
		expiresAt = rec.expiresAt
	}
	s.records[id] = &memRecord{conv: next, expiresAt: expiresAt}
	return next.Clone(), nil
}
