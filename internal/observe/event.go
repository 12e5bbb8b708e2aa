// Package observe is the content-free observability pipeline: a typed event
// stream feeding an operational log buffer, an append-only audit buffer, and
// hour-windowed metric counters with threshold alerting. Every record is
// validated against the content-free schema before it is stored; a violation
// coming from our own code is a programming error and panics.
package observe

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventDeviceProvisioned EventType = "device_provisioned"
	EventDeviceRevoked     EventType = "device_revoked"
	EventMessageAttempted  EventType = "message_attempted"
	EventPolicyEnforced    EventType = "policy_enforced"
	EventSystemStart       EventType = "system_start"
	EventSystemStop        EventType = "system_stop"
	EventDeliveryFailed    EventType = "delivery_failed"

	EventConversationCreated           EventType = "conversation_created"
	EventConversationParticipantJoined EventType = "conversation_participant_joined"
	EventConversationParticipantLeft   EventType = "conversation_participant_left"
	EventConversationClosed            EventType = "conversation_closed"
)

var knownTypes = map[EventType]struct{}{
	EventDeviceProvisioned:             {},
	EventDeviceRevoked:                 {},
	EventMessageAttempted:              {},
	EventPolicyEnforced:                {},
	EventSystemStart:                   {},
	EventSystemStop:                    {},
	EventDeliveryFailed:                {},
	EventConversationCreated:           {},
	EventConversationParticipantJoined: {},
	EventConversationParticipantLeft:   {},
	EventConversationClosed:            {},
}

// auditTypes are additionally appended to the audit buffer.
var auditTypes = map[EventType]struct{}{
	EventDeviceProvisioned: {},
	EventDeviceRevoked:     {},
	EventPolicyEnforced:    {},
	EventSystemStart:       {},
	EventSystemStop:        {},
}

func KnownType(t EventType) bool {
	_, ok := knownTypes[t]
	return ok
}

func AuditType(t EventType) bool {
	_, ok := auditTypes[t]
	return ok
}

const ClassificationInternal = "internal"

// Event is one content-free observability record.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"event_type"`
	ActorID        string         `json:"actor_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Classification string         `json:"classification"`
	Data           map[string]any `json:"data,omitempty"`
}

// prohibitedKeyFragments must never appear in a data key: such keys can only
// hold message contents or secrets, neither of which belongs in any log.
var prohibitedKeyFragments = []string{
	"content", "plaintext", "payload", "key", "secret", "password",
}

const maxStringValueLen = 1000

// ValidateContentFree checks a data map against the content-free schema:
// no prohibited key fragments and no string value over 1000 characters,
// recursively through nested maps.
func ValidateContentFree(data map[string]any) error {
	for k, v := range data {
		lower := strings.ToLower(k)
		for _, frag := range prohibitedKeyFragments {
			if strings.Contains(lower, frag) {
				return fmt.Errorf("prohibited key %q in event data", k)
			}
		}
		switch val := v.(type) {
		case string:
			if len(val) > maxStringValueLen {
				return fmt.Errorf("value for key %q exceeds %d characters", k, maxStringValueLen)
			}
		case map[string]any:
			if err := ValidateContentFree(val); err != nil {
				return err
			}
		}
	}
	return nil
}
