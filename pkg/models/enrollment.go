package models

import (
	"fmt"
	"time"
)

// EnrollmentStatus is the state of one recipient's run through a workflow.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentStopped   EnrollmentStatus = "stopped"
	EnrollmentFailed    EnrollmentStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentStopped || s == EnrollmentFailed
}

// Why an enrollment is paused. Operator pauses stay paused until an
// explicit resume; suspension pauses lift when the scope reads on again.
const (
	PauseCauseOperator  = "operator"
	PauseCauseSuspended = "suspended"
)

// Enrollment binds one recipient to one workflow run. It owns the cursor
// (current step and its due time) and the accumulated context that branch
// conditions evaluate against.
//
// Version is a monotonic counter used for optimistic claims, so two workers
// never process the same due step twice.
type Enrollment struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"  validate:"required"`
	RecipientID string           `json:"recipient_id" validate:"required"`
	Status      EnrollmentStatus `json:"status"`
	CurrentStep string           `json:"current_step"`
	NextStepAt  time.Time        `json:"next_step_at"`
	Context     map[string]any   `json:"context,omitempty"`
	Path        []string         `json:"path,omitempty"` // branch history, step ids in visit order
	Attempts    int              `json:"attempts"`       // attempts at the current step
	Version     int64            `json:"version"`
	ClaimedBy   string           `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time       `json:"claimed_at,omitempty"`
	PausedAt    *time.Time       `json:"paused_at,omitempty"`
	PauseCause  string           `json:"pause_cause,omitempty"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// IdempotencyKey identifies one due cycle of one step for at-least-once
// redelivery tolerance.
func (e *Enrollment) IdempotencyKey(stepOrder int) string {
	return fmt.Sprintf("%s:%d", e.ID, stepOrder)
}

// ContextEvent projects the enrollment context into an event shape so branch
// and goal conditions reuse the same matcher as trigger conditions.
func (e *Enrollment) ContextEvent() Event {
	return Event{
		ID:          e.ID,
		Type:        "enrollment.context",
		RecipientID: e.RecipientID,
		Fields:      e.Context,
	}
}

// StepExecutionStatus is the state of one step attempt.
type StepExecutionStatus string

const (
	StepExecutionRunning   StepExecutionStatus = "running"
	StepExecutionSucceeded StepExecutionStatus = "succeeded"
	StepExecutionFailed    StepExecutionStatus = "failed"
)

// StepExecution is the append-only record of one attempt at one step of one
// enrollment.
type StepExecution struct {
	ID             string              `json:"id"`
	EnrollmentID   string              `json:"enrollment_id"`
	WorkflowID     string              `json:"workflow_id"`
	StepID         string              `json:"step_id"`
	StepOrder      int                 `json:"step_order"`
	Attempt        int                 `json:"attempt"`
	IdempotencyKey string              `json:"idempotency_key"`
	Status         StepExecutionStatus `json:"status"`
	Input          map[string]any      `json:"input,omitempty"`
	Output         map[string]any      `json:"output,omitempty"`
	Error          string              `json:"error,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
}
