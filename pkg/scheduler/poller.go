// Package scheduler owns the engine's time-driven work: polling for due
// enrollment steps and running the periodic sweeps.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/groundgame/groundgame/pkg/engine"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 100
)

// Poller repeatedly asks the engine for due enrollment steps. Discovery is
// pull-based: nothing pushes steps at workers, so any number of pollers
// can run against the same store and the claim CAS sorts out ownership.
type Poller struct {
	engine    *engine.Engine
	clock     clockwork.Clock
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewPoller(eng *engine.Engine, clock clockwork.Clock, logger *slog.Logger, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Poller{
		engine:    eng,
		clock:     clock,
		logger:    logger.With("module", "scheduler"),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until the context is cancelled. Each tick drains one batch.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Due-step poller started",
		"interval", p.interval, "batch_size", p.batchSize)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Due-step poller stopped")

			return ctx.Err()
		case <-ticker.Chan():
			processed, err := p.engine.ProcessDue(ctx, p.batchSize)
			if err != nil {
				p.logger.ErrorContext(ctx, "Due-step poll failed", "error", err)

				continue
			}

			if processed > 0 {
				p.logger.DebugContext(ctx, "Processed due steps", "count", processed)
			}
		}
	}
}
