package rest

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/abiqua/relay-service/config"
)

type ctxKey int

const requestIDKey ctxKey = 1

// RequestID assigns a UUID to every request; it is echoed in error bodies
// and the X-Request-ID response header. The identifier is the only internal
// reference a client ever sees.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// CORS admits the configured frontend origin; development deployments admit
// everything to keep local tooling friction-free.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := cfg.FrontendOrigin
			if cfg.Development() && origin == "" {
				origin = "*"
			}
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Device-ID, X-Controller-Key")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
