package rest

import (
	"go.uber.org/fx"
)

var Module = fx.Module(
	"handler.rest",

	fx.Provide(
		NewHandler,
	),
)
