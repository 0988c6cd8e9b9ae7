package models

import "time"

// ScoreFactor is one named, weighted component of a decision score. The
// factor reads a numeric event field and multiplies it by the weight; missing
// or non-numeric fields contribute zero.
type ScoreFactor struct {
	Name   string  `json:"name"   validate:"required"`
	Field  string  `json:"field"  validate:"required"`
	Weight float64 `json:"weight"`
}

// ActionPlan describes what a trigger does when it fires: which workflow the
// recipient is enrolled into, over which channel, at what estimated cost, and
// whether a content variant must be chosen first.
type ActionPlan struct {
	WorkflowID      string        `json:"workflow_id" validate:"required"`
	Channel         Channel       `json:"channel"     validate:"required"`
	BudgetScope     string        `json:"budget_scope"`
	EstimatedCost   int64         `json:"estimated_cost"` // smallest currency unit
	DecisionPointID string        `json:"decision_point_id,omitempty"`
	ScoreFactors    []ScoreFactor `json:"score_factors,omitempty"`
}

// Trigger is a named rule matching inbound events to an action plan.
//
// Triggers are deactivated rather than deleted so the decision log always
// resolves its references.
type Trigger struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"        validate:"required,min=3"`
	Description string        `json:"description"`
	Condition   Condition     `json:"condition"`
	Plan        ActionPlan    `json:"plan"`
	Priority    int           `json:"priority"` // lower number wins
	Cooldown    time.Duration `json:"cooldown"`
	LastFiredAt *time.Time    `json:"last_fired_at,omitempty"`
	FireCount   int64         `json:"fire_count"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// OnCooldown reports whether the trigger fired too recently to fire again.
// Cooldown is measured from this trigger's own last fire, independent of any
// other trigger.
func (t *Trigger) OnCooldown(now time.Time) bool {
	if t.LastFiredAt == nil || t.Cooldown <= 0 {
		return false
	}

	return now.Sub(*t.LastFiredAt) < t.Cooldown
}

// ControlScope is the scope consulted on the control plane before this
// trigger fires: the topic when one is set, otherwise the target workflow.
func (t *Trigger) ControlScope(event Event) string {
	if event.Topic != "" {
		return "topic:" + event.Topic
	}

	return "workflow:" + t.Plan.WorkflowID
}

// BudgetScope is the scope charged for this trigger's sends. Falls back to
// the target workflow when the plan does not pin one.
func (t *Trigger) BudgetScope() string {
	if t.Plan.BudgetScope != "" {
		return t.Plan.BudgetScope
	}

	return "workflow:" + t.Plan.WorkflowID
}

// MarkFired records a fire at the given instant.
func (t *Trigger) MarkFired(now time.Time) {
	fired := now
	t.LastFiredAt = &fired
	t.FireCount++
	t.UpdatedAt = now
}
