package observe

import (
	"sync"
	"time"

	"github.com/abiqua/relay-service/internal/domain/model"
)

// LogStore is the operational sink: internal-classification entries retained
// for 90 days and purged by a scheduled worker.
type LogStore struct {
	mu        sync.RWMutex
	entries   []*Event
	retention time.Duration
}

func NewLogStore() *LogStore {
	return &LogStore{retention: model.LogRetention}
}

func (s *LogStore) Append(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ev)
}

func (s *LogStore) Entries() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *LogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Purge drops entries older than the retention horizon and reports how many
// were removed.
func (s *LogStore) Purge(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, ev := range s.entries {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := len(s.entries) - len(kept)
	s.entries = kept
	return removed
}

// AuditStore is the append-only audit sink. Nothing is ever removed; the
// trail must survive device revocation and conversation expiry.
type AuditStore struct {
	mu      sync.RWMutex
	entries []*Event
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ev)
}

func (s *AuditStore) Entries() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.entries))
	copy(out, s.entries)
	return out
}
