package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/abiqua/relay-service/internal/domain/model"
)

const (
	keyPrefix = "conversation:"

	// txRetries bounds optimistic-lock attempts before reporting contention
	// as a transient failure.
	txRetries = 3

	// callTimeout bounds every individual backend call.
	callTimeout = 5 * time.Second
)

// Interface guard
var _ Storer = (*RedisStore)(nil)

// RedisStore persists one JSON record per conversation under
// "conversation:<id>" with a per-key TTL. Mutations run under WATCH so a
// concurrent writer aborts the transaction instead of clobbering it.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	breaker    *gobreaker.CircuitBreaker
	clock      func() time.Time
}

func NewRedisStore(client *redis.Client, defaultTTL time.Duration) *RedisStore {
	s := &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
		clock:      time.Now,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "membership-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Precondition violations are answers, not backend failures; only
		// infrastructure errors may trip the breaker.
		IsSuccessful: func(err error) bool {
			return !Transient(err)
		},
	})
	return s
}

func key(id string) string { return keyPrefix + id }

func (s *RedisStore) Create(ctx context.Context, conv *model.Conversation) error {
	_, err := s.mutate(ctx, conv.ID, func(cur *model.Conversation, _ time.Duration) (*model.Conversation, time.Duration, error) {
		if cur != nil {
			return nil, 0, ErrExists
		}
		next := conv.Clone()
		next.LastActivityAt = s.clock()
		return next, s.defaultTTL, nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		raw, err := s.client.Get(ctx, key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("store: get %s: %w", id, err)
		}
		return decode(raw)
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Conversation), nil
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		n, err := s.client.Exists(ctx, key(id)).Result()
		if err != nil {
			return false, fmt.Errorf("store: exists %s: %w", id, err)
		}
		return n > 0, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *RedisStore) AddParticipant(ctx context.Context, id, deviceID string) (*model.Conversation, error) {
	return s.mutate(ctx, id, func(cur *model.Conversation, ttl time.Duration) (*model.Conversation, time.Duration, error) {
		next, err := applyAdd(cur, deviceID)
		if err != nil {
			return nil, 0, err
		}
		next.LastActivityAt = s.clock()
		return next, ttl, nil
	})
}

func (s *RedisStore) RemoveParticipant(ctx context.Context, id, deviceID string) (*model.Conversation, error) {
	return s.mutate(ctx, id, func(cur *model.Conversation, ttl time.Duration) (*model.Conversation, time.Duration, error) {
		next, err := applyRemove(cur, deviceID)
		if err != nil {
			return nil, 0, err
		}
		next.LastActivityAt = s.clock()
		return next, ttl, nil
	})
}

func (s *RedisStore) Update(ctx context.Context, id string, participants []string, state *model.ConversationState) (*model.Conversation, error) {
	return s.mutate(ctx, id, func(cur *model.Conversation, ttl time.Duration) (*model.Conversation, time.Duration, error) {
		next, err := applyUpdate(cur, participants, state)
		if err != nil {
			return nil, 0, err
		}
		next.LastActivityAt = s.clock()
		return next, ttl, nil
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return nil, s.client.Del(ctx, key(id)).Err()
	})
	return err
}

// mutate runs fn under a WATCH on the conversation key: read value and
// remaining TTL, validate, then write inside MULTI/EXEC. A concurrent write
// aborts the EXEC and the whole step is retried, at most txRetries times.
//
// TTL handling follows the backend's reply convention: -2 means the key is
// missing, -1 means no expiration is set (treated as "use the default"), and
// a non-negative value is the remaining lifetime, which updates preserve.
func (s *RedisStore) mutate(
	ctx context.Context,
	id string,
	fn func(cur *model.Conversation, ttl time.Duration) (*model.Conversation, time.Duration, error),
) (*model.Conversation, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		var out *model.Conversation

		step := func(tx *redis.Tx) error {
			ctx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			var cur *model.Conversation
			raw, err := tx.Get(ctx, key(id)).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				cur = nil
			case err != nil:
				return fmt.Errorf("store: watch read %s: %w", id, err)
			default:
				if cur, err = decode(raw); err != nil {
					return err
				}
			}

			ttl, err := tx.TTL(ctx, key(id)).Result()
			if err != nil {
				return fmt.Errorf("store: watch ttl %s: %w", id, err)
			}
			if ttl < 0 {
				// Missing key or no expiration: apply the default.
				ttl = s.defaultTTL
			}

			next, setTTL, err := fn(cur, ttl)
			if err != nil {
				return err
			}
			if setTTL <= 0 {
				setTTL = s.defaultTTL
			}

			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", id, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key(id), data, setTTL)
				return nil
			})
			if err == nil {
				out = next
			}
			return err
		}

		for range txRetries {
			err := s.client.Watch(ctx, step, key(id))
			if errors.Is(err, redis.TxFailedErr) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return out, nil
		}
		return nil, ErrTxRetries
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Conversation), nil
}

func decode(raw []byte) (*model.Conversation, error) {
	var conv model.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &conv, nil
}
