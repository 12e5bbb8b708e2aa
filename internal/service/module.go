package service

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/abiqua/relay-service/config"
	"github.com/abiqua/relay-service/internal/delivery"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/store"
)

// sweepInterval is how often the expiration sweep scans the pending map.
const sweepInterval = time.Second

var Module = fx.Module(
	"service",

	fx.Provide(
		NewPayloadCodec,

		func(cfg *config.Config, devices registry.Identifier, st store.Storer, index *store.Index, rec observe.Recorder) *ConversationService {
			return NewConversationService(devices, st, index, rec, cfg.DemoMode)
		},
		fx.Annotate(
			func(s *ConversationService) Conversationer { return s },
			fx.As(new(Conversationer)),
		),

		NewRelay,
		fx.Annotate(
			func(r *Relay) Relayer { return r },
			fx.As(new(Relayer)),
		),
		fx.Annotate(
			func(r *Relay) delivery.FrameSource { return r },
			fx.As(new(delivery.FrameSource)),
		),

		fx.Annotate(
			NewRevocationService,
			fx.As(new(Revoker)),
		),
	),

	// Intercept the conversation service to add cross-cutting logging.
	fx.Decorate(func(orig Conversationer, logger *slog.Logger) Conversationer {
		return &conversationMiddleware{
			next:   orig,
			logger: logger,
		}
	}),

	// Periodic expiration sweep over the pending map.
	fx.Invoke(func(lc fx.Lifecycle, relay *Relay) {
		ctx, cancel := context.WithCancel(context.Background())
		g, ctx := errgroup.WithContext(ctx)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				g.Go(func() error {
					ticker := time.NewTicker(sweepInterval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case now := <-ticker.C:
							relay.Sweep(now)
						}
					}
				})
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return g.Wait()
			},
		})
	}),
)
