package cmd

import (
	"context"
	"log/slog"

	"github.com/groundgame/groundgame/pkg/ledger"
	ledgermemory "github.com/groundgame/groundgame/pkg/ledger/memory"
	ledgerredis "github.com/groundgame/groundgame/pkg/ledger/redis"
)

// NewLedger picks the counter backend. Redis is required whenever more
// than one engine instance shares the fatigue and budget counters.
func NewLedger(ctx context.Context, logger *slog.Logger, redisURL string) (ledger.Ledger, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "Using in-memory ledger, counters are per-instance")

		return ledgermemory.NewLedger(), nil
	}

	return ledgerredis.NewLedger(ctx, logger, redisURL)
}
