package model

import "time"

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryExpired   DeliveryState = "expired"
)

// Message is relay-side delivery metadata plus the opaque encrypted payload.
// It lives in the in-memory pending map only: no payload byte is ever
// persisted, logged, or inspected.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string

	// Payload is opaque ciphertext, at most MaxPayloadBytes.
	Payload []byte

	// Recipients is the remaining-recipient set; devices are removed as they
	// acknowledge, and the message is retired once the set empties.
	Recipients map[string]struct{}

	CreatedAt time.Time
	ExpiresAt time.Time
}

func (m *Message) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

func (m *Message) PendingFor(deviceID string) bool {
	_, ok := m.Recipients[deviceID]
	return ok
}
