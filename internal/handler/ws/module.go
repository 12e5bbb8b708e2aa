package ws

import (
	"go.uber.org/fx"
)

var Module = fx.Module(
	"handler.ws",

	fx.Provide(
		NewWSHandler,
	),
)
