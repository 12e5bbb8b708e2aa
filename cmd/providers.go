package cmd

import (
	"log/slog"
	"os"

	"github.com/abiqua/relay-service/config"
)

// ProvideLogger builds the process logger: JSON in production, friendlier
// text everywhere else.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.Development() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	logger := slog.New(handler).With(
		"service", ServiceName,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger
}
