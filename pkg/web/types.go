package web

import (
	"time"

	"github.com/groundgame/groundgame/pkg/models"
)

// SubmitEventRequest is the body of POST /events.
type SubmitEventRequest struct {
	Type        string         `json:"type"         validate:"required"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	Topic       string         `json:"topic,omitempty"`
	OccurredAt  *time.Time     `json:"occurred_at,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// RecordOutcomeRequest is the body of POST /decisions/:id/outcome.
type RecordOutcomeRequest struct {
	Reward    float64        `json:"reward"    validate:"gte=0,lte=1"`
	Converted bool           `json:"converted"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// CreateTriggerRequest is the body of POST /triggers.
type CreateTriggerRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"      validate:"required,min=3"`
	Description string            `json:"description,omitempty"`
	Condition   models.Condition  `json:"condition"`
	Plan        models.ActionPlan `json:"plan"      validate:"required"`
	Priority    int               `json:"priority"`
	Cooldown    time.Duration     `json:"cooldown"  validate:"gte=0"`
}

// EnrollRequest is the body of POST /enrollments.
type EnrollRequest struct {
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	Context     map[string]any `json:"context,omitempty"`
}

// SetControlRequest is the body of PUT /control/:scope.
type SetControlRequest struct {
	Mode      models.Mode   `json:"mode"      validate:"required,oneof=on off timer"`
	Duration  time.Duration `json:"duration,omitempty"`
	AutoRenew bool          `json:"auto_renew,omitempty"`
	Actor     string        `json:"actor"     validate:"required"`
	Reason    string        `json:"reason,omitempty"`
}
