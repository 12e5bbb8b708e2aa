package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/internal/domain/model"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisCreateAndGet(t *testing.T) {
	s, mr := newRedisStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newConv("c1", "a", "b")))
	assert.ErrorIs(t, s.Create(ctx, newConv("c1", "a")), ErrExists)

	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, []string{"a", "b"}, conv.Participants)
	assert.True(t, conv.IsActive())

	// One JSON record per conversation under the prefixed key.
	assert.True(t, mr.Exists("conversation:c1"))
	ttl := mr.TTL("conversation:c1")
	assert.Equal(t, 30*time.Minute, ttl)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisExists(t *testing.T) {
	s, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Create(ctx, newConv("c1", "a")))
	ok, err = s.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisAddRemoveParticipant(t *testing.T) {
	s, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	conv, err := s.AddParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, conv.Participants)

	conv, err = s.AddParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, conv.Participants)

	_, err = s.RemoveParticipant(ctx, "c1", "ghost")
	assert.ErrorIs(t, err, ErrNotMember)

	conv, err = s.RemoveParticipant(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, conv.Participants)

	// Last leaver closes the record atomically.
	conv, err = s.RemoveParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, model.ConversationClosed, conv.State)
}

func TestRedisMutatePreservesTTL(t *testing.T) {
	s, mr := newRedisStore(t, 30*time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	mr.FastForward(10 * time.Minute)

	_, err := s.AddParticipant(ctx, "c1", "b")
	require.NoError(t, err)

	// The write restores the remaining lifetime, not the full default.
	assert.Equal(t, 20*time.Minute, mr.TTL("conversation:c1"))
}

func TestRedisOptimisticRetryOnConflict(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	raw, err := mr.Get("conversation:c1")
	require.NoError(t, err)

	// Sneak a concurrent write in between the watched read and the EXEC:
	// the first attempt aborts with TxFailedErr and the step retries
	// against the fresh value. The clock hook runs exactly there.
	conflicted := false
	s.clock = func() time.Time {
		if !conflicted {
			conflicted = true
			require.NoError(t, mr.Set("conversation:c1", raw))
		}
		return time.Now()
	}

	conv, err := s.AddParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Equal(t, []string{"a", "b"}, conv.Participants)
}

func TestRedisMutateDefaultsMissingTTL(t *testing.T) {
	s, mr := newRedisStore(t, 30*time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	// A record without expiration (e.g. restored by hand) gets the default
	// re-applied on the next write.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, client.Persist(ctx, "conversation:c1").Err())

	_, err := s.AddParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL("conversation:c1"))
}

func TestRedisExpiredRecordIsGone(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddParticipant(ctx, "c1", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisUpdateState(t *testing.T) {
	s, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a", "b")))

	closed := model.ConversationClosed
	conv, err := s.Update(ctx, "c1", nil, &closed)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationClosed, conv.State)
	assert.Equal(t, []string{"a", "b"}, conv.Participants)

	_, err = s.AddParticipant(ctx, "c1", "c")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestRedisDelete(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))
	require.NoError(t, s.Delete(ctx, "c1"))
	assert.False(t, mr.Exists("conversation:c1"))
}

func TestRedisRecordLayout(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newConv("c1", "a")))

	raw, err := mr.Get("conversation:c1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"conversation_id":"c1"`)
	assert.Contains(t, raw, `"participants":["a"]`)
	assert.Contains(t, raw, `"state":"active"`)
	assert.Contains(t, raw, `"created_at"`)
	assert.Contains(t, raw, `"last_activity_at"`)
}
