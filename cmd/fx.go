package cmd

import (
	"go.uber.org/fx"

	"github.com/abiqua/relay-service/config"
	httpsrv "github.com/abiqua/relay-service/infra/server/http"
	"github.com/abiqua/relay-service/internal/auth"
	"github.com/abiqua/relay-service/internal/delivery"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/handler/rest"
	"github.com/abiqua/relay-service/internal/handler/ws"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/service"
	"github.com/abiqua/relay-service/internal/store"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		registry.Module,
		store.Module,
		auth.Module,
		observe.Module,
		delivery.Module,
		service.Module,
		rest.Module,
		ws.Module,
		httpsrv.Module,
	)
}
