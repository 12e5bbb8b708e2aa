package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/internal/domain/registry"
)

func activeDevice(t *testing.T, r *registry.Registry, id string) {
	t.Helper()
	_, err := r.Register(id, "pk", "")
	require.NoError(t, err)
	_, err = r.Provision(id)
	require.NoError(t, err)
	_, err = r.Confirm(id)
	require.NoError(t, err)
}

func TestAuthorizeActiveDevice(t *testing.T) {
	r := registry.NewRegistry()
	activeDevice(t, r, "dev-1")
	g := NewGate(r)

	for _, op := range []Operation{
		OpSendMessage, OpCreateConversation, OpJoinConversation,
		OpLeaveConversation, OpCloseConversation, OpReadConversation, OpLogEvent,
	} {
		d := g.Authorize("dev-1", op)
		assert.True(t, d.Allow, "op %d", op)
	}
}

func TestAuthorizeRevokedDevice(t *testing.T) {
	r := registry.NewRegistry()
	activeDevice(t, r, "dev-1")
	_, _, err := r.Revoke("dev-1", "")
	require.NoError(t, err)
	g := NewGate(r)

	// Write-capable operations are forbidden, with 403 identifying the
	// neutral revoked mode rather than an unknown caller.
	for _, op := range []Operation{OpSendMessage, OpCreateConversation, OpJoinConversation} {
		d := g.Authorize("dev-1", op)
		assert.False(t, d.Allow)
		assert.Equal(t, http.StatusForbidden, d.Status)
		assert.Equal(t, "device_not_active", d.Reason)
	}

	// Read stays open.
	assert.True(t, g.Authorize("dev-1", OpReadConversation).Allow)
	// Leaving and closing remain possible for cleanup.
	assert.True(t, g.Authorize("dev-1", OpLeaveConversation).Allow)
	assert.True(t, g.Authorize("dev-1", OpCloseConversation).Allow)
}

func TestAuthorizeUnknownDevice(t *testing.T) {
	g := NewGate(registry.NewRegistry())

	for _, op := range []Operation{
		OpSendMessage, OpReadConversation, OpLeaveConversation, OpLogEvent,
	} {
		d := g.Authorize("ghost", op)
		assert.False(t, d.Allow)
		assert.Equal(t, http.StatusUnauthorized, d.Status)
	}

	d := g.Authorize("", OpSendMessage)
	assert.False(t, d.Allow)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestAuthorizePendingDevice(t *testing.T) {
	r := registry.NewRegistry()
	_, err := r.Register("dev-1", "pk", "")
	require.NoError(t, err)
	g := NewGate(r)

	d := g.Authorize("dev-1", OpSendMessage)
	assert.False(t, d.Allow)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestKeyring(t *testing.T) {
	k := NewKeyring([]string{"key-a", "key-b"})

	assert.True(t, k.Validate("key-a"))
	assert.True(t, k.Validate("key-b"))
	assert.False(t, k.Validate("key-c"))
	assert.False(t, k.Validate(""))

	// No configured keys means no controller surface.
	empty := NewKeyring(nil)
	assert.False(t, empty.Validate("anything"))
}
