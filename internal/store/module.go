package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/abiqua/relay-service/config"
)

var Module = fx.Module("store",
	fx.Provide(
		NewIndex,
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (Storer, error) {
			if cfg.RedisURL == "" {
				logger.Warn("no redis url configured, using in-process membership store")
				return NewMemoryStore(cfg.ConversationTTL()), nil
			}

			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("store: parse redis url: %w", err)
			}
			client := redis.NewClient(opts)

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := client.Ping(ctx).Err(); err != nil {
						return fmt.Errorf("store: redis ping: %w", err)
					}
					logger.Info("membership store connected", "addr", opts.Addr)
					return nil
				},
				OnStop: func(context.Context) error {
					return client.Close()
				},
			})

			return NewRedisStore(client, cfg.ConversationTTL()), nil
		},
	),
)
