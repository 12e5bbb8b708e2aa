package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

var Module = fx.Module("observe",
	fx.Provide(
		func(logger *slog.Logger) watermill.LoggerAdapter {
			return watermill.NewSlogLogger(logger)
		},
		func(wmLogger watermill.LoggerAdapter) *gochannel.GoChannel {
			return gochannel.NewGoChannel(gochannel.Config{
				OutputChannelBuffer: 256,
			}, wmLogger)
		},
		fx.Annotate(
			func(ch *gochannel.GoChannel) message.Publisher { return ch },
			fx.As(new(message.Publisher)),
		),
		fx.Annotate(
			func(ch *gochannel.GoChannel) message.Subscriber { return ch },
			fx.As(new(message.Subscriber)),
		),
		prometheus.NewRegistry,
		NewLogStore,
		NewAuditStore,
		NewMetrics,
		NewSink,
		NewRouter,
		fx.Annotate(
			NewDispatcher,
			fx.As(new(Recorder)),
		),
	),

	fx.Invoke(RegisterHandlers),

	// Run the event router for the lifetime of the process.
	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() { done <- router.Run(ctx) }()
				select {
				case <-router.Running():
					return nil
				case err := <-done:
					return err
				}
			},
			OnStop: func(context.Context) error {
				cancel()
				return <-done
			},
		})
	}),

	// Scheduled retention purge for the operational buffer.
	fx.Invoke(func(lc fx.Lifecycle, logs *LogStore, logger *slog.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		g, ctx := errgroup.WithContext(ctx)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				g.Go(func() error {
					ticker := time.NewTicker(time.Hour)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							if n := logs.Purge(time.Now()); n > 0 {
								logger.Info("log retention purge", "removed", n)
							}
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

	// Bracket the process with the start/stop audit events.
	fx.Invoke(func(lc fx.Lifecycle, rec Recorder) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				rec.Record(ctx, &Event{Type: EventSystemStart})
				return nil
			},
			OnStop: func(ctx context.Context) error {
				rec.Record(ctx, &Event{Type: EventSystemStop})
				return nil
			},
		})
	}),
)
