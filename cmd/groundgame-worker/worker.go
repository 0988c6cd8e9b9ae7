package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/groundgame/groundgame/pkg/cmd"
	"github.com/groundgame/groundgame/pkg/scheduler"
)

// Worker runs the due-step poller until the process is told to stop.
type Worker struct {
	id       string
	services *cmd.Services
	logger   *slog.Logger
	poller   *scheduler.Poller
}

func NewWorker(id string, services *cmd.Services, logger *slog.Logger, interval time.Duration, batchSize int) *Worker {
	return &Worker{
		id:       id,
		services: services,
		logger:   logger,
		poller:   scheduler.NewPoller(services.Engine, services.Clock, logger, interval, batchSize),
	}
}

// Run blocks until SIGINT or SIGTERM, then lets the in-flight batch
// drain before returning.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Worker started")

	err := w.poller.Run(ctx)
	if errors.Is(err, context.Canceled) {
		w.logger.InfoContext(ctx, "Worker shut down")

		return nil
	}

	return err
}
