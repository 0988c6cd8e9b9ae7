// Package persistence provides the data storage abstraction layer for the
// decision and automation engine.
package persistence

import (
	"context"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
)

// TriggerRepository stores trigger definitions. Triggers are deactivated,
// never deleted, to preserve decision-log referential integrity.
type TriggerRepository interface {
	Triggers(ctx context.Context) ([]*models.Trigger, error)
	ActiveTriggers(ctx context.Context) ([]*models.Trigger, error)
	TriggerByID(ctx context.Context, id string) (*models.Trigger, error)
	SaveTrigger(ctx context.Context, trigger *models.Trigger) error
	DeactivateTrigger(ctx context.Context, id string) error
}

// DecisionRepository stores the immutable decision log.
type DecisionRepository interface {
	SaveDecision(ctx context.Context, decision *models.Decision) error
	DecisionByID(ctx context.Context, id string) (*models.Decision, error)
	Decisions(ctx context.Context, limit int) ([]*models.Decision, error)
	// AttachOutcome appends the outcome to a decision; it fails with
	// ErrOutcomeAlreadyRecorded when one is already present.
	AttachOutcome(ctx context.Context, decisionID string, outcome models.DecisionOutcome) (*models.Decision, error)
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
}

// EnrollmentRepository stores enrollments and their step executions.
type EnrollmentRepository interface {
	// CreateEnrollment inserts a new enrollment. For non-re-entrant
	// workflows it fails with ErrDuplicateEnrollment when an active
	// enrollment for the same (workflow, recipient) already exists; the
	// uniqueness is enforced here, at the write boundary.
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	ActiveEnrollment(ctx context.Context, workflowID, recipientID string) (*models.Enrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	// DueEnrollments returns active enrollments whose next step is due at
	// or before now.
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)

	// SuspendedEnrollments returns enrollments paused by control
	// suspension, candidates for resumption once their scope is on again.
	SuspendedEnrollments(ctx context.Context) ([]*models.Enrollment, error)

	// ClaimEnrollment marks an enrollment as claimed by a worker iff its
	// version still matches; returns ErrEnrollmentClaimConflict otherwise.
	ClaimEnrollment(ctx context.Context, id string, version int64, workerID string, now time.Time) (*models.Enrollment, error)

	SaveStepExecution(ctx context.Context, execution *models.StepExecution) error
	StepExecutions(ctx context.Context, enrollmentID string) ([]*models.StepExecution, error)
	StepExecutionByKey(ctx context.Context, idempotencyKey string) (*models.StepExecution, error)
}

// ControlRepository stores control states and their append-only history.
type ControlRepository interface {
	ControlState(ctx context.Context, scope string) (*models.ControlState, error)
	ControlStates(ctx context.Context) ([]*models.ControlState, error)
	SaveControlState(ctx context.Context, state *models.ControlState) error
	AppendControlHistory(ctx context.Context, entry *models.ControlHistoryEntry) error
	ControlHistory(ctx context.Context, scope string) ([]*models.ControlHistoryEntry, error)
}

// VariantRepository stores bandit arms.
type VariantRepository interface {
	VariantByID(ctx context.Context, id string) (*models.Variant, error)
	ActiveVariants(ctx context.Context, decisionPointID string) ([]*models.Variant, error)
	SaveVariant(ctx context.Context, variant *models.Variant) error

	// UpdateVariant applies the mutation to the stored arm without other
	// updates interleaving, so concurrently-reported outcomes accumulate
	// instead of overwriting each other. Returns the arm after the change.
	UpdateVariant(ctx context.Context, id string, apply func(*models.Variant)) (*models.Variant, error)

	DeactivateVariant(ctx context.Context, id string) error
}

// Persistence aggregates the engine's repositories behind one connection
// lifecycle.
type Persistence interface {
	TriggerRepository() TriggerRepository
	DecisionRepository() DecisionRepository
	WorkflowRepository() WorkflowRepository
	EnrollmentRepository() EnrollmentRepository
	ControlRepository() ControlRepository
	VariantRepository() VariantRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
