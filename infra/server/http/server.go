// Package httpsrv assembles the HTTP surface: the chi router with the REST
// handler mounted on it, the WebSocket endpoint, and the Prometheus scrape
// handler, served by one http.Server bound to the fx lifecycle.
package httpsrv

import (
	"context"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/abiqua/relay-service/config"
	"github.com/abiqua/relay-service/internal/handler/rest"
	"github.com/abiqua/relay-service/internal/handler/ws"
)

const shutdownTimeout = 10 * time.Second

func NewRouter(cfg *config.Config, h *rest.Handler, wsh *ws.WSHandler, registry *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(rest.RequestID)
	r.Use(rest.CORS(cfg))

	h.Routes(r)
	r.Handle("/ws/messages", wsh)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func NewServer(cfg *config.Config, mux *chi.Mux) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

var Module = fx.Module(
	"server.http",

	fx.Provide(
		NewRouter,
		NewServer,
	),

	fx.Invoke(func(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				logger.Info("http server listening", "addr", ln.Addr().String())
				go func() {
					if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
						logger.Error("http server stopped", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
				defer cancel()
				return srv.Shutdown(ctx)
			},
		})
	}),
)
