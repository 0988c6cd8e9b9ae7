// Package cmd provides common initialization for the engine binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/groundgame/groundgame/pkg/persistence"
	"github.com/groundgame/groundgame/pkg/persistence/memory"
	"github.com/groundgame/groundgame/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the database URL scheme.
// An empty URL means the in-memory store, for development and tests only.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "" || strings.HasPrefix(databaseURL, "memory://"):
		logger.WarnContext(ctx, "Using in-memory persistence, data will not survive restarts")

		return memory.NewPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}
