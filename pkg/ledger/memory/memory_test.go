package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/models"
)

func TestRecordContactAndFatigue(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordContact(ctx, "r-1", models.ChannelSMS, now))
	require.NoError(t, l.RecordContact(ctx, "r-1", models.ChannelSMS, now.Add(time.Hour)))

	record, err := l.Fatigue(ctx, "r-1", models.ChannelSMS, now.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2), record.ContactsDay)
	assert.Equal(t, int64(2), record.ContactsWeek)
	assert.Equal(t, int64(2), record.ContactsMonth)
	assert.Equal(t, now.Add(time.Hour), record.LastContactAt)
}

func TestFatigueIsPerChannelAndRecipient(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordContact(ctx, "r-1", models.ChannelSMS, now))

	record, err := l.Fatigue(ctx, "r-1", models.ChannelEmail, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Score())

	record, err = l.Fatigue(ctx, "r-2", models.ChannelSMS, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Score())
}

func TestDayCounterResetsAtCalendarBoundary(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	// Tuesday evening and Wednesday morning of the same ISO week.
	tuesday := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	wednesday := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordContact(ctx, "r-1", models.ChannelSMS, tuesday))

	record, err := l.Fatigue(ctx, "r-1", models.ChannelSMS, wednesday)
	require.NoError(t, err)

	assert.Equal(t, int64(0), record.ContactsDay)
	assert.Equal(t, int64(1), record.ContactsWeek)
	assert.Equal(t, int64(1), record.ContactsMonth)
}

func TestBudgetStatusReportsConfiguredPeriodsOnly(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.SetAllotment(ctx, "workflow:wf-1", models.ChannelSMS, models.PeriodDay, 500))
	require.NoError(t, l.SetAllotment(ctx, "workflow:wf-1", models.ChannelSMS, models.PeriodMonth, 5000))

	require.NoError(t, l.RecordSpend(ctx, "workflow:wf-1", models.ChannelSMS, 120, now))
	require.NoError(t, l.RecordSpend(ctx, "workflow:wf-1", models.ChannelSMS, 80, now))

	records, err := l.BudgetStatus(ctx, "workflow:wf-1", models.ChannelSMS, now)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.PeriodDay, records[0].Period)
	assert.Equal(t, int64(500), records[0].Allotted)
	assert.Equal(t, int64(200), records[0].Spent)
	assert.Equal(t, int64(300), records[0].Remaining())

	assert.Equal(t, models.PeriodMonth, records[1].Period)
	assert.Equal(t, int64(200), records[1].Spent)
}

func TestSpendResetsWithNewPeriodBucket(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	march := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.SetAllotment(ctx, "topic:healthcare", models.ChannelMail, models.PeriodMonth, 1000))
	require.NoError(t, l.RecordSpend(ctx, "topic:healthcare", models.ChannelMail, 900, march))

	records, err := l.BudgetStatus(ctx, "topic:healthcare", models.ChannelMail, april)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, int64(0), records[0].Spent)
	assert.Equal(t, int64(1000), records[0].Remaining())
}

func TestSpendIsSoftCeiling(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.SetAllotment(ctx, "workflow:wf-1", models.ChannelVoice, models.PeriodDay, 100))

	// The ledger never refuses a write, even past the ceiling.
	require.NoError(t, l.RecordSpend(ctx, "workflow:wf-1", models.ChannelVoice, 250, now))

	records, err := l.BudgetStatus(ctx, "workflow:wf-1", models.ChannelVoice, now)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, int64(250), records[0].Spent)
	assert.Equal(t, int64(0), records[0].Remaining())
}
