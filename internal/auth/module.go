package auth

import (
	"go.uber.org/fx"

	"github.com/abiqua/relay-service/config"
)

var Module = fx.Module("auth",
	fx.Provide(
		fx.Annotate(
			NewGate,
			fx.As(new(Gater)),
		),
		func(cfg *config.Config) *Keyring {
			return NewKeyring(cfg.ControllerKeys())
		},
	),
)
