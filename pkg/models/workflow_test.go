package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testWorkflow() *Workflow {
	return &Workflow{
		ID:     "wf-welcome",
		Name:   "Welcome Series",
		Status: WorkflowStatusActive,
		Steps: []*WorkflowStep{
			{
				ID:         "send-intro",
				Name:       "Send intro",
				Kind:       StepMessage,
				Channel:    ChannelEmail,
				TemplateID: "tpl-intro",
				Next:       strPtr("wait"),
			},
			{
				ID:    "wait",
				Name:  "Wait two days",
				Kind:  StepDelay,
				Delay: 48 * time.Hour,
				Next:  strPtr("route"),
			},
			{
				ID:   "route",
				Name: "Route by engagement",
				Kind: StepBranch,
				Branches: []BranchEdge{
					{When: Condition{Field: "opened", Op: OpEqual, Value: true}, Next: "check-goal"},
				},
				DefaultNext: "send-intro",
			},
			{
				ID:   "check-goal",
				Name: "Check donation goal",
				Kind: StepGoal,
				Goal: Condition{Field: "donated", Op: OpEqual, Value: true},
			},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	require.NoError(t, testWorkflow().Validate())
}

func TestWorkflowValidateRejectsBadGraphs(t *testing.T) {
	empty := &Workflow{ID: "wf-empty", Name: "Empty"}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidWorkflow)

	duplicate := testWorkflow()
	duplicate.Steps[1].ID = "send-intro"
	assert.ErrorIs(t, duplicate.Validate(), ErrInvalidWorkflow)

	danglingNext := testWorkflow()
	danglingNext.Steps[0].Next = strPtr("missing")
	assert.ErrorIs(t, danglingNext.Validate(), ErrInvalidWorkflow)

	branchNoDefault := testWorkflow()
	branchNoDefault.Steps[2].DefaultNext = ""
	assert.ErrorIs(t, branchNoDefault.Validate(), ErrInvalidWorkflow)

	branchBadEdge := testWorkflow()
	branchBadEdge.Steps[2].Branches[0].Next = "missing"
	assert.ErrorIs(t, branchBadEdge.Validate(), ErrInvalidWorkflow)

	messageNoChannel := testWorkflow()
	messageNoChannel.Steps[0].Channel = ChannelUnknown
	assert.ErrorIs(t, messageNoChannel.Validate(), ErrInvalidWorkflow)

	delayNoDuration := testWorkflow()
	delayNoDuration.Steps[1].Delay = 0
	assert.ErrorIs(t, delayNoDuration.Validate(), ErrInvalidWorkflow)

	goalNoCondition := testWorkflow()
	goalNoCondition.Steps[3].Goal = Condition{}
	assert.ErrorIs(t, goalNoCondition.Validate(), ErrInvalidWorkflow)
}

func TestWorkflowStepLookups(t *testing.T) {
	workflow := testWorkflow()

	step, ok := workflow.Step("wait")
	require.True(t, ok)
	assert.Equal(t, StepDelay, step.Kind)

	_, ok = workflow.Step("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, workflow.StepOrder("route"))
	assert.Equal(t, -1, workflow.StepOrder("missing"))

	first, ok := workflow.FirstStep()
	require.True(t, ok)
	assert.Equal(t, "send-intro", first.ID)
}

func TestWorkflowStepDefaults(t *testing.T) {
	step := WorkflowStep{}

	assert.Equal(t, DefaultStepMaxAttempts, step.RetryBudget())
	assert.Equal(t, DefaultStepTimeout, step.ExecutionTimeout())

	step.MaxAttempts = 5
	step.Timeout = time.Minute

	assert.Equal(t, 5, step.RetryBudget())
	assert.Equal(t, time.Minute, step.ExecutionTimeout())
}
