// Package control manages the on/off/timer switches that gate outbound
// activity per workflow or topic. The stored mode is treated as a cache:
// every read computes the effective mode from the timer window and the
// clock, and a periodic reconciliation sweep rewrites records whose timers
// have lapsed.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

const sweepActor = "reconciliation-sweep"

// ErrInvalidChange is returned for mode changes that do not make sense,
// such as a timer with no duration.
var ErrInvalidChange = errors.New("invalid control change")

// IsInvalidChange checks whether an error stems from a malformed change
// request.
func IsInvalidChange(err error) bool {
	return errors.Is(err, ErrInvalidChange)
}

// ChangeRequest describes one requested mode change.
type ChangeRequest struct {
	Scope     string        `json:"scope"     validate:"required"`
	Mode      models.Mode   `json:"mode"      validate:"required,oneof=on off timer"`
	Duration  time.Duration `json:"duration,omitempty"`
	AutoRenew bool          `json:"auto_renew,omitempty"`
	Actor     string        `json:"actor"     validate:"required"`
	Reason    string        `json:"reason,omitempty"`
}

// Plane is the control-plane service. All reads of a scope's state go
// through EffectiveMode; nothing else in the engine consults the stored
// mode enum directly.
type Plane struct {
	repo   persistence.ControlRepository
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewPlane(repo persistence.ControlRepository, clock clockwork.Clock, logger *slog.Logger) *Plane {
	return &Plane{
		repo:   repo,
		clock:  clock,
		logger: logger.With("module", "control"),
	}
}

// SetMode applies a mode change and appends an audit entry. Timer changes
// open a window of req.Duration starting now.
func (p *Plane) SetMode(ctx context.Context, req ChangeRequest) (*models.ControlState, error) {
	if req.Scope == "" {
		return nil, fmt.Errorf("%w: scope is required", ErrInvalidChange)
	}

	if req.Mode == models.ModeTimer && req.Duration <= 0 {
		return nil, fmt.Errorf("%w: timer mode requires a positive duration", ErrInvalidChange)
	}

	now := p.clock.Now().UTC()

	fromMode := models.ModeOn

	previous, err := p.repo.ControlState(ctx, req.Scope)
	if err != nil && !persistence.IsNotFound(err) {
		return nil, err
	}

	if previous != nil {
		fromMode = previous.EffectiveMode(now)
	}

	state := &models.ControlState{
		Scope:     req.Scope,
		Mode:      req.Mode,
		UpdatedAt: now,
	}

	if req.Mode == models.ModeTimer {
		expires := now.Add(req.Duration)
		state.TimerStartedAt = &now
		state.TimerExpiresAt = &expires
		state.AutoRenew = req.AutoRenew
		state.RenewDuration = req.Duration
	}

	if err := p.repo.SaveControlState(ctx, state); err != nil {
		return nil, err
	}

	entry := &models.ControlHistoryEntry{
		ID:        uuid.New().String(),
		Scope:     req.Scope,
		FromMode:  fromMode,
		ToMode:    req.Mode,
		Actor:     req.Actor,
		Reason:    req.Reason,
		ChangedAt: now,
	}

	if err := p.repo.AppendControlHistory(ctx, entry); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Control mode changed",
		"scope", req.Scope,
		"from", fromMode,
		"to", req.Mode,
		"actor", req.Actor)

	return state, nil
}

// EffectiveMode computes the scope's on/off state right now. A scope with
// no stored record is on: control records exist to restrict, absence means
// unrestricted.
func (p *Plane) EffectiveMode(ctx context.Context, scope string) (models.Mode, error) {
	state, err := p.repo.ControlState(ctx, scope)
	if persistence.IsNotFound(err) {
		return models.ModeOn, nil
	}

	if err != nil {
		return models.ModeOff, err
	}

	return state.EffectiveMode(p.clock.Now()), nil
}

// State returns the stored record for a scope.
func (p *Plane) State(ctx context.Context, scope string) (*models.ControlState, error) {
	return p.repo.ControlState(ctx, scope)
}

// History returns the scope's audit trail, oldest first.
func (p *Plane) History(ctx context.Context, scope string) ([]*models.ControlHistoryEntry, error) {
	return p.repo.ControlHistory(ctx, scope)
}

// Reconcile rewrites every stored record whose timer window has lapsed.
// Auto-renewing timers get a fresh window anchored at the old expiry, so
// back-to-back windows never drift; plain timers become off. Each rewrite
// appends a history entry attributed to the sweep.
func (p *Plane) Reconcile(ctx context.Context) (int, error) {
	states, err := p.repo.ControlStates(ctx)
	if err != nil {
		return 0, err
	}

	now := p.clock.Now().UTC()
	reconciled := 0

	for _, state := range states {
		if !state.TimerExpired(now) {
			continue
		}

		if err := p.reconcileTimer(ctx, state, now); err != nil {
			p.logger.ErrorContext(ctx, "Failed to reconcile control timer",
				"scope", state.Scope, "error", err)

			continue
		}

		reconciled++
	}

	return reconciled, nil
}

func (p *Plane) reconcileTimer(ctx context.Context, state *models.ControlState, now time.Time) error {
	toMode := models.ModeOff
	reason := "timer expired"

	if state.AutoRenew && state.RenewDuration > 0 {
		started := *state.TimerExpiresAt
		expires := started.Add(state.RenewDuration)

		// Catch up across multiple missed windows in one rewrite.
		for !expires.After(now) {
			started = expires
			expires = started.Add(state.RenewDuration)
		}

		state.TimerStartedAt = &started
		state.TimerExpiresAt = &expires
		toMode = models.ModeTimer
		reason = "timer renewed"
	} else {
		state.Mode = models.ModeOff
		state.TimerStartedAt = nil
		state.TimerExpiresAt = nil
		state.RenewDuration = 0
	}

	state.UpdatedAt = now

	if err := p.repo.SaveControlState(ctx, state); err != nil {
		return err
	}

	return p.repo.AppendControlHistory(ctx, &models.ControlHistoryEntry{
		ID:        uuid.New().String(),
		Scope:     state.Scope,
		FromMode:  models.ModeTimer,
		ToMode:    toMode,
		Actor:     sweepActor,
		Reason:    reason,
		ChangedAt: now,
	})
}
