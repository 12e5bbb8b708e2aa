package model

import (
	"encoding/hex"
	"time"
)

// Frame is the server→client WebSocket message shape. Payload is hex so the
// wire stays printable; clients decode before decrypting.
type Frame struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Payload        string    `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
	SenderID       string    `json:"sender_id"`
	Expiration     time.Time `json:"expiration"`
}

func NewFrame(m *Message) *Frame {
	return &Frame{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Payload:        hex.EncodeToString(m.Payload),
		Timestamp:      m.CreatedAt,
		SenderID:       m.SenderID,
		Expiration:     m.ExpiresAt,
	}
}

// AckFrame notifies a connected sender that a recipient acknowledged.
type AckFrame struct {
	Type           string `json:"type"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
	RecipientID    string `json:"recipient_id"`
}

// InboundFrame is the client→server frame. Only "ack" is meaningful; unknown
// types are discarded.
type InboundFrame struct {
	Type           string `json:"type"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

const FrameTypeAck = "ack"
