package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/ledger"
	ledgermemory "github.com/groundgame/groundgame/pkg/ledger/memory"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence/memory"
)

func newTestSweeper(t *testing.T, allotments []ledger.Allotment, opts ...SweeperOption) (*Sweeper, *control.Plane, *ledgermemory.Ledger, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	plane := control.NewPlane(memory.NewPersistence().ControlRepository(), clock, logger)
	budgetLedger := ledgermemory.NewLedger()

	return NewSweeper(plane, budgetLedger, allotments, logger, opts...), plane, budgetLedger, clock
}

func TestReconcileControlsRewritesLapsedTimers(t *testing.T) {
	sweeper, plane, _, clock := newTestSweeper(t, nil)
	ctx := context.Background()

	_, err := plane.SetMode(ctx, control.ChangeRequest{
		Scope:    "workflow:wf-1",
		Mode:     models.ModeTimer,
		Duration: time.Hour,
		Actor:    "op",
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	sweeper.ReconcileControls(ctx)

	state, err := plane.State(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, state.Mode)
}

type fakeResumer struct {
	calls int
}

func (r *fakeResumer) ResumeSuspended(_ context.Context) (int, error) {
	r.calls++

	return 1, nil
}

func TestReconcileControlsRunsResumePass(t *testing.T) {
	resumer := &fakeResumer{}
	sweeper, _, _, _ := newTestSweeper(t, nil, WithSuspensionResumer(resumer))

	sweeper.ReconcileControls(context.Background())

	assert.Equal(t, 1, resumer.calls)
}

func TestRefreshAllotmentsIsIdempotent(t *testing.T) {
	allotments := []ledger.Allotment{
		{Scope: "workflow:wf-1", Channel: models.ChannelSMS, Period: models.PeriodDay, Amount: 500},
	}

	sweeper, _, budgetLedger, clock := newTestSweeper(t, allotments)
	ctx := context.Background()

	sweeper.RefreshAllotments(ctx)
	sweeper.RefreshAllotments(ctx)

	records, err := budgetLedger.BudgetStatus(ctx, "workflow:wf-1", models.ChannelSMS, clock.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(500), records[0].Allotted)
}

func TestSweeperStartAndStop(t *testing.T) {
	sweeper, _, _, _ := newTestSweeper(t, nil,
		WithReconcileSchedule("@every 1h"),
		WithAllotmentSchedule("@every 2h"))

	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper, _, _, _ := newTestSweeper(t, nil, WithReconcileSchedule("not a schedule"))

	assert.Error(t, sweeper.Start(context.Background()))
}
