package delivery

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("delivery",
	fx.Provide(
		func(logger *slog.Logger) *Hub {
			return NewHub(logger,
				WithQueueSize(4096),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
		NewRetryEngine,
		fx.Annotate(
			func(e *RetryEngine) Acker { return e },
			fx.As(new(Acker)),
		),
	),

	// The retry engine owns ACK timers for frames the hub reports as sent.
	fx.Invoke(func(h *Hub, e *RetryEngine) {
		h.OnSent(e.TrackSend)
	}),

	fx.Invoke(func(lc fx.Lifecycle, h *Hub, e *RetryEngine) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				e.Shutdown()
				h.Shutdown()
				return nil
			},
		})
	}),
)
