package store

import (
	"sync"

	"github.com/abiqua/relay-service/internal/domain/model"
)

// Index is the derived device→conversations reverse mapping used for fast
// revocation scans. It is advisory: records expire in the store via TTL
// without the index noticing, so every consumer must re-check the store
// before acting on an entry.
type Index struct {
	mu       sync.RWMutex
	byDevice map[string]map[string]struct{}
	byConv   map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		byDevice: make(map[string]map[string]struct{}),
		byConv:   make(map[string]map[string]struct{}),
	}
}

func (ix *Index) Add(deviceID, convID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.add(deviceID, convID)
}

func (ix *Index) add(deviceID, convID string) {
	if ix.byDevice[deviceID] == nil {
		ix.byDevice[deviceID] = make(map[string]struct{})
	}
	ix.byDevice[deviceID][convID] = struct{}{}
	if ix.byConv[convID] == nil {
		ix.byConv[convID] = make(map[string]struct{})
	}
	ix.byConv[convID][deviceID] = struct{}{}
}

func (ix *Index) Remove(deviceID, convID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.remove(deviceID, convID)
}

func (ix *Index) remove(deviceID, convID string) {
	delete(ix.byDevice[deviceID], convID)
	if len(ix.byDevice[deviceID]) == 0 {
		delete(ix.byDevice, deviceID)
	}
	delete(ix.byConv[convID], deviceID)
	if len(ix.byConv[convID]) == 0 {
		delete(ix.byConv, convID)
	}
}

// Conversations snapshots the candidate set for a device.
func (ix *Index) Conversations(deviceID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.byDevice[deviceID]))
	for convID := range ix.byDevice[deviceID] {
		out = append(out, convID)
	}
	return out
}

// Drop discards every entry for a conversation, e.g. after it closed or was
// found expired.
func (ix *Index) Drop(convID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for deviceID := range ix.byConv[convID] {
		delete(ix.byDevice[deviceID], convID)
		if len(ix.byDevice[deviceID]) == 0 {
			delete(ix.byDevice, deviceID)
		}
	}
	delete(ix.byConv, convID)
}

// Observe reconciles the index against a record fresh from the store. Called
// on writes and opportunistically on participant reads, so staleness heals
// over time.
func (ix *Index) Observe(conv *model.Conversation) {
	if conv == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if conv.State == model.ConversationClosed {
		for deviceID := range ix.byConv[conv.ID] {
			delete(ix.byDevice[deviceID], conv.ID)
			if len(ix.byDevice[deviceID]) == 0 {
				delete(ix.byDevice, deviceID)
			}
		}
		delete(ix.byConv, conv.ID)
		return
	}

	current := make(map[string]struct{}, len(conv.Participants))
	for _, p := range conv.Participants {
		current[p] = struct{}{}
	}
	for deviceID := range ix.byConv[conv.ID] {
		if _, ok := current[deviceID]; !ok {
			ix.remove(deviceID, conv.ID)
		}
	}
	for deviceID := range current {
		ix.add(deviceID, conv.ID)
	}
}
