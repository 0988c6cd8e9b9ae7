package control

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence/memory"
)

func newTestPlane(t *testing.T) (*Plane, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewPlane(memory.NewPersistence().ControlRepository(), clock, logger), clock
}

func TestEffectiveModeDefaultsToOn(t *testing.T) {
	plane, _ := newTestPlane(t)

	mode, err := plane.EffectiveMode(context.Background(), "workflow:wf-1")

	require.NoError(t, err)
	assert.Equal(t, models.ModeOn, mode)
}

func TestSetModeValidation(t *testing.T) {
	plane, _ := newTestPlane(t)
	ctx := context.Background()

	_, err := plane.SetMode(ctx, ChangeRequest{Mode: models.ModeOff, Actor: "op"})
	assert.True(t, IsInvalidChange(err))

	_, err = plane.SetMode(ctx, ChangeRequest{Scope: "workflow:wf-1", Mode: models.ModeTimer, Actor: "op"})
	assert.True(t, IsInvalidChange(err))
}

func TestSetModeOffAndHistory(t *testing.T) {
	plane, _ := newTestPlane(t)
	ctx := context.Background()

	state, err := plane.SetMode(ctx, ChangeRequest{
		Scope:  "workflow:wf-1",
		Mode:   models.ModeOff,
		Actor:  "field-director",
		Reason: "message review",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, state.Mode)

	mode, err := plane.EffectiveMode(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, mode)

	history, err := plane.History(ctx, "workflow:wf-1")
	require.NoError(t, err)
	require.Len(t, history, 1)

	assert.Equal(t, models.ModeOn, history[0].FromMode)
	assert.Equal(t, models.ModeOff, history[0].ToMode)
	assert.Equal(t, "field-director", history[0].Actor)
}

func TestTimerWindowRoundTrip(t *testing.T) {
	plane, clock := newTestPlane(t)
	ctx := context.Background()

	_, err := plane.SetMode(ctx, ChangeRequest{
		Scope:    "topic:healthcare",
		Mode:     models.ModeTimer,
		Duration: 2 * time.Hour,
		Actor:    "op",
	})
	require.NoError(t, err)

	mode, err := plane.EffectiveMode(ctx, "topic:healthcare")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOn, mode)

	// Past the window the scope reads off even before the sweep runs.
	clock.Advance(3 * time.Hour)

	mode, err = plane.EffectiveMode(ctx, "topic:healthcare")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, mode)
}

func TestReconcileExpiresPlainTimer(t *testing.T) {
	plane, clock := newTestPlane(t)
	ctx := context.Background()

	_, err := plane.SetMode(ctx, ChangeRequest{
		Scope:    "workflow:wf-1",
		Mode:     models.ModeTimer,
		Duration: time.Hour,
		Actor:    "op",
	})
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)

	reconciled, err := plane.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	state, err := plane.State(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, state.Mode)
	assert.Nil(t, state.TimerExpiresAt)

	history, err := plane.History(ctx, "workflow:wf-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "reconciliation-sweep", history[1].Actor)
	assert.Equal(t, models.ModeOff, history[1].ToMode)
}

func TestReconcileRenewsAutoRenewTimer(t *testing.T) {
	plane, clock := newTestPlane(t)
	ctx := context.Background()

	start := clock.Now().UTC()

	_, err := plane.SetMode(ctx, ChangeRequest{
		Scope:     "workflow:wf-1",
		Mode:      models.ModeTimer,
		Duration:  time.Hour,
		AutoRenew: true,
		Actor:     "op",
	})
	require.NoError(t, err)

	// Sweep three windows late; the renewal catches up, anchored at the
	// old expiries, not at sweep time.
	clock.Advance(3*time.Hour + 10*time.Minute)

	reconciled, err := plane.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	state, err := plane.State(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeTimer, state.Mode)
	require.NotNil(t, state.TimerStartedAt)
	require.NotNil(t, state.TimerExpiresAt)
	assert.Equal(t, start.Add(3*time.Hour), *state.TimerStartedAt)
	assert.Equal(t, start.Add(4*time.Hour), *state.TimerExpiresAt)

	mode, err := plane.EffectiveMode(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOn, mode)
}

func TestReconcileSkipsHealthyStates(t *testing.T) {
	plane, clock := newTestPlane(t)
	ctx := context.Background()

	_, err := plane.SetMode(ctx, ChangeRequest{Scope: "workflow:on", Mode: models.ModeOn, Actor: "op"})
	require.NoError(t, err)

	_, err = plane.SetMode(ctx, ChangeRequest{
		Scope:    "workflow:timer",
		Mode:     models.ModeTimer,
		Duration: time.Hour,
		Actor:    "op",
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	reconciled, err := plane.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reconciled)
}
