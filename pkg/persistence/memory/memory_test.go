package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

func activeWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		Name:   "Workflow " + id,
		Status: models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{ID: "s1", Name: "Send", Kind: models.StepMessage, Channel: models.ChannelSMS, TemplateID: "tpl"},
		},
	}
}

func activeEnrollment(id, workflowID, recipientID string, due time.Time) *models.Enrollment {
	return &models.Enrollment{
		ID:          id,
		WorkflowID:  workflowID,
		RecipientID: recipientID,
		Status:      models.EnrollmentActive,
		CurrentStep: "s1",
		NextStepAt:  due,
	}
}

func TestCreateEnrollmentRejectsDuplicateActiveRun(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	require.NoError(t, p.SaveWorkflow(ctx, activeWorkflow("wf-1")))
	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-1", "wf-1", "r-1", now)))

	err := p.CreateEnrollment(ctx, activeEnrollment("e-2", "wf-1", "r-1", now))
	assert.True(t, persistence.IsDuplicateEnrollment(err))

	// A different recipient is fine.
	assert.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-3", "wf-1", "r-2", now)))
}

func TestCreateEnrollmentAllowsReentryWhenConfigured(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	workflow := activeWorkflow("wf-1")
	workflow.AllowReentry = true
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-1", "wf-1", "r-1", now)))
	assert.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-2", "wf-1", "r-1", now)))
}

func TestCreateEnrollmentAllowsNewRunAfterTerminal(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	require.NoError(t, p.SaveWorkflow(ctx, activeWorkflow("wf-1")))

	finished := activeEnrollment("e-1", "wf-1", "r-1", now)
	finished.Status = models.EnrollmentCompleted
	require.NoError(t, p.CreateEnrollment(ctx, finished))

	assert.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-2", "wf-1", "r-1", now)))
}

func TestClaimEnrollmentConflictsOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	require.NoError(t, p.SaveWorkflow(ctx, activeWorkflow("wf-1")))
	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-1", "wf-1", "r-1", now)))

	claimed, err := p.ClaimEnrollment(ctx, "e-1", 0, "worker-a", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed.Version)
	assert.Equal(t, "worker-a", claimed.ClaimedBy)

	// A second worker holding the old version loses.
	_, err = p.ClaimEnrollment(ctx, "e-1", 0, "worker-b", now)
	assert.True(t, persistence.IsClaimConflict(err))
}

func TestDueEnrollmentsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	workflow := activeWorkflow("wf-1")
	workflow.AllowReentry = true
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-later", "wf-1", "r-1", now.Add(-time.Minute))))
	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-earlier", "wf-1", "r-2", now.Add(-time.Hour))))
	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-future", "wf-1", "r-3", now.Add(time.Hour))))

	paused := activeEnrollment("e-paused", "wf-1", "r-4", now.Add(-time.Hour))
	paused.Status = models.EnrollmentPaused
	require.NoError(t, p.CreateEnrollment(ctx, paused))

	due, err := p.DueEnrollments(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, "e-earlier", due[0].ID)
	assert.Equal(t, "e-later", due[1].ID)

	limited, err := p.DueEnrollments(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "e-earlier", limited[0].ID)
}

func TestSuspendedEnrollmentsFiltersByPauseCause(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	workflow := activeWorkflow("wf-1")
	workflow.AllowReentry = true
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	suspended := activeEnrollment("e-suspended", "wf-1", "r-1", now)
	suspended.Status = models.EnrollmentPaused
	suspended.PauseCause = models.PauseCauseSuspended
	require.NoError(t, p.CreateEnrollment(ctx, suspended))

	operator := activeEnrollment("e-operator", "wf-1", "r-2", now)
	operator.Status = models.EnrollmentPaused
	operator.PauseCause = models.PauseCauseOperator
	require.NoError(t, p.CreateEnrollment(ctx, operator))

	require.NoError(t, p.CreateEnrollment(ctx, activeEnrollment("e-active", "wf-1", "r-3", now)))

	found, err := p.SuspendedEnrollments(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e-suspended", found[0].ID)
}

func TestStepExecutionByKeyReturnsLatestAttempt(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	first := &models.StepExecution{
		ID: "x-1", EnrollmentID: "e-1", IdempotencyKey: "e-1:0",
		Attempt: 1, Status: models.StepExecutionFailed, StartedAt: now,
	}
	second := &models.StepExecution{
		ID: "x-2", EnrollmentID: "e-1", IdempotencyKey: "e-1:0",
		Attempt: 2, Status: models.StepExecutionSucceeded, StartedAt: now,
	}

	require.NoError(t, p.SaveStepExecution(ctx, first))
	require.NoError(t, p.SaveStepExecution(ctx, second))

	latest, err := p.StepExecutionByKey(ctx, "e-1:0")
	require.NoError(t, err)
	assert.Equal(t, "x-2", latest.ID)
	assert.Equal(t, models.StepExecutionSucceeded, latest.Status)

	_, err = p.StepExecutionByKey(ctx, "e-9:0")
	assert.True(t, persistence.IsNotFound(err))
}

func TestAttachOutcomeIsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	decision := &models.Decision{ID: "d-1", Verdict: models.VerdictGo, DecidedAt: now}
	require.NoError(t, p.SaveDecision(ctx, decision))

	updated, err := p.AttachOutcome(ctx, "d-1", models.DecisionOutcome{Reward: 1, ReportedAt: now})
	require.NoError(t, err)
	require.NotNil(t, updated.Outcome)
	assert.Equal(t, 1.0, updated.Outcome.Reward)

	_, err = p.AttachOutcome(ctx, "d-1", models.DecisionOutcome{Reward: 0, ReportedAt: now})
	assert.ErrorIs(t, err, persistence.ErrOutcomeAlreadyRecorded)
}

func TestDecisionsReturnsNewestFirst(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	now := time.Now().UTC()

	for _, id := range []string{"d-1", "d-2", "d-3"} {
		require.NoError(t, p.SaveDecision(ctx, &models.Decision{ID: id, DecidedAt: now}))
	}

	decisions, err := p.Decisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	assert.Equal(t, "d-3", decisions[0].ID)
	assert.Equal(t, "d-2", decisions[1].ID)
}

func TestDeactivateTriggerHidesFromActiveSet(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	trigger := &models.Trigger{ID: "t-1", Name: "Trigger one", Active: true}
	require.NoError(t, p.SaveTrigger(ctx, trigger))
	require.NoError(t, p.DeactivateTrigger(ctx, "t-1"))

	active, err := p.ActiveTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Deactivated, not deleted: lookups still resolve.
	kept, err := p.TriggerByID(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, kept.Active)

	assert.True(t, persistence.IsNotFound(p.DeactivateTrigger(ctx, "t-9")))
}

func TestSavedWorkflowsAreCopies(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	workflow := activeWorkflow("wf-1")
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	// Mutating the caller's steps must not leak into the store.
	workflow.Steps[0].TemplateID = "changed"

	stored, err := p.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "tpl", stored.Steps[0].TemplateID)

	// Nor may mutations of a fetched copy.
	stored.Steps[0].TemplateID = "changed-again"

	fresh, err := p.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "tpl", fresh.Steps[0].TemplateID)
}

func TestUpdateVariantAppliesToStoredArm(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	require.NoError(t, p.SaveVariant(ctx, models.NewVariant("v-1", "dp-1", "Control")))

	updated, err := p.UpdateVariant(ctx, "v-1", func(v *models.Variant) { v.Pulls++ })
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Pulls)

	// The returned record is a copy, not the stored one.
	updated.Pulls = 99

	stored, err := p.VariantByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Pulls)

	_, err = p.UpdateVariant(ctx, "v-9", func(*models.Variant) {})
	assert.True(t, persistence.IsNotFound(err))
}

func TestSavedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	trigger := &models.Trigger{ID: "t-1", Name: "Trigger one", Active: true}
	require.NoError(t, p.SaveTrigger(ctx, trigger))

	// Mutating the caller's struct must not leak into the store.
	trigger.Name = "changed"

	stored, err := p.TriggerByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Trigger one", stored.Name)
}
