package registry

import (
	"go.uber.org/fx"

	"github.com/abiqua/relay-service/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config) *Registry {
			return NewRegistry(
				WithDemoMode(cfg.DemoMode),
			)
		},
		fx.Annotate(
			func(r *Registry) Identifier { return r },
			fx.As(new(Identifier)),
		),
	),
)
