package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/dispatch"
	"github.com/groundgame/groundgame/pkg/engine"
	ledgermemory "github.com/groundgame/groundgame/pkg/ledger/memory"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence/memory"
)

func TestPollerDefaults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	poller := NewPoller(nil, clock, logger, 0, 0)

	assert.Equal(t, DefaultPollInterval, poller.interval)
	assert.Equal(t, DefaultBatchSize, poller.batchSize)
}

func TestPollerProcessesDueStepsOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	persist := memory.NewPersistence()
	plane := control.NewPlane(persist.ControlRepository(), clock, logger)
	allocator := bandit.NewAllocator(persist.VariantRepository(), rand.New(rand.NewSource(1)), logger)

	workflow := &models.Workflow{
		ID:     "wf-ping",
		Name:   "Single ping",
		Status: models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				ID:         "ping",
				Name:       "Ping",
				Kind:       models.StepMessage,
				Channel:    models.ChannelSMS,
				TemplateID: "tpl-ping",
			},
		},
	}
	require.NoError(t, persist.SaveWorkflow(ctx, workflow))

	eng := engine.NewEngine(engine.Config{
		Persistence: persist,
		Plane:       plane,
		Ledger:      ledgermemory.NewLedger(),
		Allocator:   allocator,
		Dispatchers: map[models.Channel]dispatch.ChannelDispatcher{
			models.ChannelSMS: dispatch.NewNoopDispatcher(logger),
		},
		Renderer: dispatch.PassthroughRenderer{},
		Consent:  &dispatch.StaticConsent{Default: true},
		Clock:    clock,
		Logger:   logger,
		WorkerID: "worker-test",
	})

	enrollment, started, err := eng.Enroll(ctx, "wf-ping", "r-1", nil)
	require.NoError(t, err)
	require.True(t, started)

	poller := NewPoller(eng, clock, logger, time.Second, 10)

	done := make(chan error, 1)

	go func() {
		done <- poller.Run(ctx)
	}()

	// Wait for the ticker to exist, then fire one tick.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		current, err := persist.EnrollmentByID(ctx, enrollment.ID)
		if err != nil {
			return false
		}

		return current.Status == models.EnrollmentCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
