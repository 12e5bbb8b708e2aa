package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/store"
)

func newConvService(t *testing.T, demoMode bool, deviceIDs ...string) (*ConversationService, *store.Index, *fakeRecorder) {
	t.Helper()
	reg := activeRegistry(t, deviceIDs...)
	ix := store.NewIndex()
	rec := &fakeRecorder{}
	svc := NewConversationService(reg, store.NewMemoryStore(30*time.Minute), ix, rec, demoMode)
	return svc, ix, rec
}

func TestCreateConversation(t *testing.T) {
	svc, ix, rec := newConvService(t, false, "creator", "other")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "creator", []string{"other"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"creator", "other"}, conv.Participants)
	assert.True(t, conv.IsActive())

	// The index learns the membership on the write path.
	assert.ElementsMatch(t, []string{conv.ID}, ix.Conversations("creator"))

	events := rec.byType(observe.EventConversationCreated)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Data["participant_count"])
}

func TestCreateValidations(t *testing.T) {
	svc, _, _ := newConvService(t, false, "creator", "other")
	ctx := context.Background()

	_, err := svc.Create(ctx, "creator", nil)
	assert.ErrorIs(t, err, ErrParticipantsRequired)

	_, err = svc.Create(ctx, "creator", []string{"other", "stranger"})
	assert.ErrorIs(t, err, ErrParticipantNotActive)

	big := make([]string, model.MaxGroupSize)
	for i := range big {
		big[i] = "x"
	}
	// creator is appended on top of an already-full list.
	_, err = svc.Create(ctx, "creator", big)
	assert.ErrorIs(t, err, ErrGroupSizeExceeded)
}

func TestJoinAndLeave(t *testing.T) {
	svc, ix, _ := newConvService(t, false, "a", "b", "c")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	joined, err := svc.Join(ctx, "c", conv.ID)
	require.NoError(t, err)
	assert.Contains(t, joined.Participants, "c")
	assert.ElementsMatch(t, []string{conv.ID}, ix.Conversations("c"))

	left, closed, err := svc.Leave(ctx, "c", conv.ID)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.NotContains(t, left.Participants, "c")
	assert.Empty(t, ix.Conversations("c"))
}

func TestLastLeaveCloses(t *testing.T) {
	svc, ix, rec := newConvService(t, false, "a", "b")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	_, closed, err := svc.Leave(ctx, "a", conv.ID)
	require.NoError(t, err)
	assert.False(t, closed)

	_, closed, err = svc.Leave(ctx, "b", conv.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	assert.Len(t, rec.byType(observe.EventConversationClosed), 1)
	assert.Empty(t, ix.Conversations("b"))
}

func TestJoinUnknownConversation(t *testing.T) {
	svc, _, _ := newConvService(t, false, "a")
	_, err := svc.Join(context.Background(), "a", "no-such-conv")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDemoJoinAutoCreates(t *testing.T) {
	svc, _, rec := newConvService(t, true, "a")
	ctx := context.Background()

	conv, err := svc.Join(ctx, "a", "demo-room")
	require.NoError(t, err)
	assert.Equal(t, "demo-room", conv.ID)
	assert.Equal(t, []string{"a"}, conv.Participants)

	events := rec.byType(observe.EventConversationCreated)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Data["demo_auto_create"])
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, _, rec := newConvService(t, false, "a", "b")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	closed, err := svc.Close(ctx, "a", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationClosed, closed.State)

	// Second close succeeds without another event.
	_, err = svc.Close(ctx, "a", conv.ID)
	require.NoError(t, err)
	assert.Len(t, rec.byType(observe.EventConversationClosed), 1)
}

func TestCloseRequiresMembership(t *testing.T) {
	svc, _, _ := newConvService(t, false, "a", "b", "outsider")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	_, err = svc.Close(ctx, "outsider", conv.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestInfoAccess(t *testing.T) {
	svc, _, _ := newConvService(t, false, "a", "b", "outsider")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	got, err := svc.Info(ctx, "a", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	// Non-participants are denied without an existence oracle.
	_, err = svc.Info(ctx, "outsider", conv.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestParticipants(t *testing.T) {
	svc, _, _ := newConvService(t, false, "a", "b")
	ctx := context.Background()

	conv, err := svc.Create(ctx, "a", []string{"b"})
	require.NoError(t, err)

	members, err := svc.Participants(ctx, conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	_, err = svc.Close(ctx, "a", conv.ID)
	require.NoError(t, err)

	_, err = svc.Participants(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotActive)
}
