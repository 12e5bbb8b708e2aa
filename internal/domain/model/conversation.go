package model

import (
	"slices"
	"time"
)

type ConversationState string

const (
	ConversationActive ConversationState = "active"
	ConversationClosed ConversationState = "closed"
)

// Conversation is the membership record persisted by the store under the key
// "conversation:<id>". The JSON field names are part of the persisted layout.
type Conversation struct {
	ID             string            `json:"conversation_id"`
	Participants   []string          `json:"participants"`
	State          ConversationState `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

func (c *Conversation) IsActive() bool { return c.State == ConversationActive }

func (c *Conversation) HasParticipant(deviceID string) bool {
	return slices.Contains(c.Participants, deviceID)
}

// Clone returns a deep copy so callers can mutate participant sets without
// aliasing a record that is still visible to concurrent readers.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp
}
