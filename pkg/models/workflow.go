package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not enrollable
	WorkflowStatusActive   WorkflowStatus = "active"   // Enrollable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not enrollable
)

// StepKind is the type of a workflow step.
type StepKind string

const (
	StepMessage StepKind = "message" // render + dispatch over a channel
	StepDelay   StepKind = "delay"   // wait before the next step
	StepBranch  StepKind = "branch"  // choose the next step from context
	StepGoal    StepKind = "goal"    // complete the enrollment when met
)

// BranchEdge is one labeled edge out of a branch step: take Next when the
// condition matches the enrollment context.
type BranchEdge struct {
	When Condition `json:"when"`
	Next string    `json:"next" validate:"required"`
}

// Step defaults for retry and timeout when the definition leaves them unset.
const (
	DefaultStepMaxAttempts = 3
	DefaultStepTimeout     = 30 * time.Second
)

// WorkflowStep is one node of the workflow graph. Steps never own each
// other; they reference the next step by ID, and the workflow holds them in
// a flat ordered slice.
type WorkflowStep struct {
	ID              string        `json:"id"   validate:"required"`
	Name            string        `json:"name" validate:"required"`
	Kind            StepKind      `json:"kind" validate:"required"`
	Channel         Channel       `json:"channel,omitempty"`
	TemplateID      string        `json:"template_id,omitempty"`
	DecisionPointID string        `json:"decision_point_id,omitempty"`
	Delay           time.Duration `json:"delay,omitempty"`
	Goal            Condition     `json:"goal,omitempty"`
	Branches        []BranchEdge  `json:"branches,omitempty"`
	DefaultNext     string        `json:"default_next,omitempty"`
	Next            *string       `json:"next,omitempty"` // nil = terminal
	EstimatedCost   int64         `json:"estimated_cost,omitempty"`
	MaxAttempts     int           `json:"max_attempts,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// RetryBudget returns the configured attempt bound, defaulted.
func (s WorkflowStep) RetryBudget() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}

	return DefaultStepMaxAttempts
}

// ExecutionTimeout returns the per-attempt timeout, defaulted.
func (s WorkflowStep) ExecutionTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}

	return DefaultStepTimeout
}

// Workflow is an ordered, optionally branching plan of steps that an
// enrollment walks through.
type Workflow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name" validate:"required,min=3"`
	Description  string          `json:"description"`
	Status       WorkflowStatus  `json:"status"`
	AllowReentry bool            `json:"allow_reentry"`
	Steps        []*WorkflowStep `json:"steps"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

var ErrInvalidWorkflow = errors.New("invalid workflow definition")

// Step returns the step with the given ID.
func (w *Workflow) Step(id string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// StepOrder returns the index of a step in the definition, used as part of
// the step-execution idempotency key.
func (w *Workflow) StepOrder(id string) int {
	for i, step := range w.Steps {
		if step.ID == id {
			return i
		}
	}

	return -1
}

// FirstStep returns the entry step of the workflow.
func (w *Workflow) FirstStep() (*WorkflowStep, bool) {
	if len(w.Steps) == 0 {
		return nil, false
	}

	return w.Steps[0], true
}

// Validate checks the workflow graph is well-formed: every referenced step
// exists, branch steps carry a default edge, and conditions parse. This runs
// at definition load time; violations never surface at runtime.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: workflow %s has no steps", ErrInvalidWorkflow, w.ID)
	}

	known := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if known[step.ID] {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidWorkflow, step.ID)
		}

		known[step.ID] = true
	}

	for _, step := range w.Steps {
		if err := w.validateStep(step, known); err != nil {
			return err
		}
	}

	return nil
}

func (w *Workflow) validateStep(step *WorkflowStep, known map[string]bool) error {
	if step.Next != nil && !known[*step.Next] {
		return fmt.Errorf("%w: step %q references unknown next step %q", ErrInvalidWorkflow, step.ID, *step.Next)
	}

	switch step.Kind {
	case StepMessage:
		if step.Channel == ChannelUnknown {
			return fmt.Errorf("%w: message step %q requires a channel", ErrInvalidWorkflow, step.ID)
		}

		if step.TemplateID == "" {
			return fmt.Errorf("%w: message step %q requires a template", ErrInvalidWorkflow, step.ID)
		}
	case StepDelay:
		if step.Delay <= 0 {
			return fmt.Errorf("%w: delay step %q requires a positive delay", ErrInvalidWorkflow, step.ID)
		}
	case StepBranch:
		if len(step.Branches) == 0 {
			return fmt.Errorf("%w: branch step %q has no edges", ErrInvalidWorkflow, step.ID)
		}

		// Unmatched conditions fall through to the default edge, never to
		// a silent stop.
		if step.DefaultNext == "" {
			return fmt.Errorf("%w: branch step %q requires a default edge", ErrInvalidWorkflow, step.ID)
		}

		if !known[step.DefaultNext] {
			return fmt.Errorf("%w: branch step %q default references unknown step %q", ErrInvalidWorkflow, step.ID, step.DefaultNext)
		}

		for _, edge := range step.Branches {
			if !known[edge.Next] {
				return fmt.Errorf("%w: branch step %q edge references unknown step %q", ErrInvalidWorkflow, step.ID, edge.Next)
			}

			if err := edge.When.Validate(); err != nil {
				return fmt.Errorf("%w: branch step %q: %v", ErrInvalidWorkflow, step.ID, err)
			}
		}
	case StepGoal:
		if step.Goal.IsZero() {
			return fmt.Errorf("%w: goal step %q requires a goal condition", ErrInvalidWorkflow, step.ID)
		}

		if err := step.Goal.Validate(); err != nil {
			return fmt.Errorf("%w: goal step %q: %v", ErrInvalidWorkflow, step.ID, err)
		}
	default:
		return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidWorkflow, step.ID, step.Kind)
	}

	return nil
}
