package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/ledger"
)

// Default sweep cadences. Timer reconciliation runs often because an
// expired timer is only a stored stale record until it is rewritten;
// allotment refresh only repairs drift after restarts or config pushes.
const (
	DefaultReconcileSchedule = "* * * * *"
	DefaultAllotmentSchedule = "@hourly"
)

// SuspensionResumer reactivates suspension-paused enrollments whose
// scope reads on again. Implemented by the engine.
type SuspensionResumer interface {
	ResumeSuspended(ctx context.Context) (int, error)
}

// Sweeper runs the cron-scheduled maintenance jobs: control timer
// reconciliation and budget allotment refresh.
type Sweeper struct {
	plane      *control.Plane
	ledger     ledger.Ledger
	allotments []ledger.Allotment
	resumer    SuspensionResumer
	logger     *slog.Logger
	cron       *cron.Cron

	reconcileSchedule string
	allotmentSchedule string
}

type SweeperOption func(*Sweeper)

// WithSuspensionResumer makes the reconcile pass also lift suspension
// pauses for scopes that are back on.
func WithSuspensionResumer(resumer SuspensionResumer) SweeperOption {
	return func(s *Sweeper) {
		s.resumer = resumer
	}
}

func WithReconcileSchedule(schedule string) SweeperOption {
	return func(s *Sweeper) {
		s.reconcileSchedule = schedule
	}
}

func WithAllotmentSchedule(schedule string) SweeperOption {
	return func(s *Sweeper) {
		s.allotmentSchedule = schedule
	}
}

func NewSweeper(plane *control.Plane, budgetLedger ledger.Ledger, allotments []ledger.Allotment, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	sweeper := &Sweeper{
		plane:             plane,
		ledger:            budgetLedger,
		allotments:        allotments,
		logger:            logger.With("module", "sweeper"),
		cron:              cron.New(),
		reconcileSchedule: DefaultReconcileSchedule,
		allotmentSchedule: DefaultAllotmentSchedule,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	return sweeper
}

// Start registers the jobs and starts the cron scheduler. Jobs run with
// the given base context so a shutdown cancels in-flight sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.reconcileSchedule, func() {
		s.ReconcileControls(ctx)
	})
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.allotmentSchedule, func() {
		s.RefreshAllotments(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started",
		"reconcile_schedule", s.reconcileSchedule,
		"allotment_schedule", s.allotmentSchedule)

	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// ReconcileControls rewrites control records whose timers have lapsed.
func (s *Sweeper) ReconcileControls(ctx context.Context) {
	reconciled, err := s.plane.Reconcile(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Control reconciliation failed", "error", err)

		return
	}

	if reconciled > 0 {
		s.logger.InfoContext(ctx, "Reconciled control timers", "count", reconciled)
	}

	if s.resumer == nil {
		return
	}

	resumed, err := s.resumer.ResumeSuspended(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Suspension resume pass failed", "error", err)

		return
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "Resumed suspended enrollments", "count", resumed)
	}
}

// RefreshAllotments reapplies the configured budget ceilings. The write is
// idempotent; it exists to repair ledger state after a restart or a
// configuration push.
func (s *Sweeper) RefreshAllotments(ctx context.Context) {
	for _, allotment := range s.allotments {
		err := s.ledger.SetAllotment(ctx, allotment.Scope, allotment.Channel, allotment.Period, allotment.Amount)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to refresh allotment",
				"scope", allotment.Scope,
				"channel", allotment.Channel,
				"period", allotment.Period,
				"error", err)
		}
	}
}
