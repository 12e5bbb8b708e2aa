package observe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentFree(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{
			name: "clean metadata",
			data: map[string]any{
				"message_id":      "m1",
				"recipient_count": 3,
				"duration_ms":     12.5,
			},
		},
		{name: "nil data"},
		{
			name:    "content key",
			data:    map[string]any{"message_content": "x"},
			wantErr: true,
		},
		{
			name:    "plaintext key",
			data:    map[string]any{"plaintext": "x"},
			wantErr: true,
		},
		{
			name:    "payload key",
			data:    map[string]any{"payload_size": 10},
			wantErr: true,
		},
		{
			name:    "key fragment case insensitive",
			data:    map[string]any{"PrivateKey": "x"},
			wantErr: true,
		},
		{
			name:    "secret fragment",
			data:    map[string]any{"client_secret": "x"},
			wantErr: true,
		},
		{
			name:    "password fragment",
			data:    map[string]any{"user_password_hash": "x"},
			wantErr: true,
		},
		{
			name: "long string value",
			data: map[string]any{
				"note": strings.Repeat("a", 1001),
			},
			wantErr: true,
		},
		{
			name: "string at the limit",
			data: map[string]any{
				"note": strings.Repeat("a", 1000),
			},
		},
		{
			name: "nested violation",
			data: map[string]any{
				"outer": map[string]any{"api_key": "x"},
			},
			wantErr: true,
		},
		{
			name: "nested clean",
			data: map[string]any{
				"outer": map[string]any{"count": 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentFree(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKnownAndAuditTypes(t *testing.T) {
	assert.True(t, KnownType(EventMessageAttempted))
	assert.True(t, KnownType(EventConversationClosed))
	assert.False(t, KnownType("made_up_type"))

	assert.True(t, AuditType(EventDeviceRevoked))
	assert.True(t, AuditType(EventPolicyEnforced))
	assert.False(t, AuditType(EventMessageAttempted))
	assert.False(t, AuditType(EventDeliveryFailed))
}
