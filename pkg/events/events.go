// Package events defines the typed notifications published on the engine's
// event bus: decision verdicts, enrollment lifecycle transitions, step
// executions and control-plane changes.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/groundgame/groundgame/pkg/models"
)

type EventType string

// Topic is the bus topic every engine notification is published on.
const Topic = "groundgame.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Evaluation events.
	DecisionMadeEvent EventType = "decision.made"
	TriggerFiredEvent EventType = "trigger.fired"

	// Enrollment lifecycle events.
	EnrollmentStartedEvent   EventType = "enrollment.started"
	EnrollmentPausedEvent    EventType = "enrollment.paused"
	EnrollmentResumedEvent   EventType = "enrollment.resumed"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentStoppedEvent   EventType = "enrollment.stopped"
	EnrollmentFailedEvent    EventType = "enrollment.failed"

	// Step execution events.
	StepSucceededEvent EventType = "step.succeeded"
	StepFailedEvent    EventType = "step.failed"

	// Control and feedback events.
	ControlChangedEvent  EventType = "control.changed"
	OutcomeRecordedEvent EventType = "outcome.recorded"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// DecisionMade is published for every evaluation, whatever the verdict.
type DecisionMade struct {
	BaseEvent

	DecisionID  string         `json:"decision_id"`
	EventID     string         `json:"event_id"`
	RecipientID string         `json:"recipient_id"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	Verdict     models.Verdict `json:"verdict"`
	Reason      string         `json:"reason,omitempty"`
}

func (e DecisionMade) GetType() EventType {
	return DecisionMadeEvent
}

// TriggerFired is published only for go verdicts, once the enrollment and
// spend have been committed.
type TriggerFired struct {
	BaseEvent

	TriggerID    string         `json:"trigger_id"`
	DecisionID   string         `json:"decision_id"`
	RecipientID  string         `json:"recipient_id"`
	WorkflowID   string         `json:"workflow_id"`
	Channel      models.Channel `json:"channel"`
	VariantID    string         `json:"variant_id,omitempty"`
	EnrollmentID string         `json:"enrollment_id"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type EnrollmentStarted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	RecipientID  string `json:"recipient_id"`
	FirstStepID  string `json:"first_step_id"`
}

func (e EnrollmentStarted) GetType() EventType {
	return EnrollmentStartedEvent
}

type EnrollmentPaused struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	StepID       string `json:"step_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentPaused) GetType() EventType {
	return EnrollmentPausedEvent
}

type EnrollmentResumed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	StepID       string `json:"step_id"`
}

func (e EnrollmentResumed) GetType() EventType {
	return EnrollmentResumedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string   `json:"enrollment_id"`
	WorkflowID   string   `json:"workflow_id"`
	RecipientID  string   `json:"recipient_id"`
	Path         []string `json:"path"`
	GoalMet      bool     `json:"goal_met"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentStopped struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	RecipientID  string `json:"recipient_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentStopped) GetType() EventType {
	return EnrollmentStoppedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
	Attempts     int    `json:"attempts"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type StepSucceeded struct {
	BaseEvent

	EnrollmentID   string        `json:"enrollment_id"`
	WorkflowID     string        `json:"workflow_id"`
	StepID         string        `json:"step_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Duration       time.Duration `json:"duration"`
}

func (e StepSucceeded) GetType() EventType {
	return StepSucceededEvent
}

type StepFailed struct {
	BaseEvent

	EnrollmentID   string `json:"enrollment_id"`
	WorkflowID     string `json:"workflow_id"`
	StepID         string `json:"step_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error"`
	Attempt        int    `json:"attempt"`
	WillRetry      bool   `json:"will_retry"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type ControlChanged struct {
	BaseEvent

	Scope    string      `json:"scope"`
	FromMode models.Mode `json:"from_mode"`
	ToMode   models.Mode `json:"to_mode"`
	Actor    string      `json:"actor"`
}

func (e ControlChanged) GetType() EventType {
	return ControlChangedEvent
}

// OutcomeRecorded carries a reported reward back onto the bus. Outcomes
// attach either to a decision or to the workflow step whose variant
// selection earned them.
type OutcomeRecorded struct {
	BaseEvent

	DecisionID   string  `json:"decision_id,omitempty"`
	EnrollmentID string  `json:"enrollment_id,omitempty"`
	StepID       string  `json:"step_id,omitempty"`
	VariantID    string  `json:"variant_id,omitempty"`
	Reward       float64 `json:"reward"`
	Converted    bool    `json:"converted"`
}

func (e OutcomeRecorded) GetType() EventType {
	return OutcomeRecordedEvent
}
