package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/channels/gochannel"
	"github.com/groundgame/groundgame/pkg/events"
	"github.com/groundgame/groundgame/pkg/models"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewStdLogger(false, false))
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestPublishAndSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	var (
		mu       sync.Mutex
		received []*events.DecisionMade
	)

	err := bus.Handle(events.DecisionMadeEvent, func(_ context.Context, event interface{}) error {
		made, ok := event.(*events.DecisionMade)
		require.True(t, ok)

		mu.Lock()
		received = append(received, made)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	made := events.DecisionMade{
		BaseEvent:   events.NewBaseEvent(events.DecisionMadeEvent),
		DecisionID:  "dec-1",
		RecipientID: "r-1",
		Verdict:     models.VerdictGo,
	}

	require.NoError(t, bus.Publish(ctx, "r-1", made))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, received, 1)
	assert.Equal(t, "dec-1", received[0].DecisionID)
	assert.Equal(t, models.VerdictGo, received[0].Verdict)
	assert.Equal(t, events.DecisionMadeEvent, received[0].GetType())
}

func TestUnhandledEventTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	handled := make(chan struct{}, 1)

	err := bus.Handle(events.EnrollmentStartedEvent, func(_ context.Context, _ interface{}) error {
		handled <- struct{}{}

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type; the bus drops it.
	fired := events.TriggerFired{
		BaseEvent: events.NewBaseEvent(events.TriggerFiredEvent),
		TriggerID: "trg-1",
	}
	require.NoError(t, bus.Publish(ctx, "r-1", fired))

	started := events.EnrollmentStarted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentStartedEvent),
		EnrollmentID: "enr-1",
	}
	require.NoError(t, bus.Publish(ctx, "r-1", started))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handled event never arrived")
	}
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	seen := make(map[string]bool)

	for range 100 {
		id := bus.GenerateID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
