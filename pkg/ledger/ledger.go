// Package ledger provides the contact-fatigue and budget counters. The
// ledger is deliberately dumb: it records atomically and reports, but it
// never refuses a write. Enforcement happens in the evaluator, which reads
// the counters before committing a decision.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
)

// ErrAllotmentNotFound is returned when no budget allotment is configured
// for a scope, channel and period combination.
var ErrAllotmentNotFound = errors.New("budget allotment not found")

// Ledger tracks contact counts per recipient and spend per budget scope.
// Counters live in calendar buckets (see models.Period.Key), so a period
// rollover starts a fresh bucket without any reset write.
type Ledger interface {
	// RecordContact increments the recipient's contact counters for the
	// channel in every period bucket.
	RecordContact(ctx context.Context, recipientID string, channel models.Channel, now time.Time) error

	// Fatigue returns the recipient's current window counters for the
	// channel. A recipient with no recorded contacts gets a zero record.
	Fatigue(ctx context.Context, recipientID string, channel models.Channel, now time.Time) (*models.FatigueRecord, error)

	// SetAllotment configures the budget ceiling for a scope, channel and
	// period. Amounts are in the smallest currency unit.
	SetAllotment(ctx context.Context, scope string, channel models.Channel, period models.Period, amount int64) error

	// RecordSpend adds amount to the scope's spend counters in every
	// period bucket. Spend is recorded even past the allotment; the
	// ceiling is soft.
	RecordSpend(ctx context.Context, scope string, channel models.Channel, amount int64, now time.Time) error

	// BudgetStatus returns one record per configured allotment for the
	// scope and channel, with the spend from the current period buckets.
	BudgetStatus(ctx context.Context, scope string, channel models.Channel, now time.Time) ([]*models.BudgetRecord, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Periods enumerates the accounting windows every counter is bucketed by.
var Periods = []models.Period{models.PeriodDay, models.PeriodWeek, models.PeriodMonth}

// Allotment is one configured budget ceiling: what a scope may spend on a
// channel within a period.
type Allotment struct {
	Scope   string         `json:"scope"   validate:"required"`
	Channel models.Channel `json:"channel" validate:"required"`
	Period  models.Period  `json:"period"  validate:"required,oneof=day week month"`
	Amount  int64          `json:"amount"  validate:"gte=0"`
}
