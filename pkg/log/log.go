// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

func parseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default slog handler at the given level.
func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})))
}

// NewLogger returns a logger tagged with the service name, for binaries
// that run several services in one process.
func NewLogger(service, logLevel string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})

	return slog.New(handler).With("service", service)
}

// WithModule returns the default logger scoped to one module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
