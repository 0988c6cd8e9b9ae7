package models

import "time"

// Verdict is the outcome of evaluating one event against the trigger set.
type Verdict string

const (
	VerdictGo     Verdict = "go"
	VerdictHold   Verdict = "hold"
	VerdictReject Verdict = "reject"
)

// Reasons attached to hold/reject verdicts. Holds are the engine's main
// safety mechanism: they always resolve to inaction, never to an error.
const (
	ReasonNoMatch         = "no_match"
	ReasonCooldown        = "cooldown"
	ReasonSuspended       = "suspended"
	ReasonFatigueLimit    = "fatigue_limit"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonEvaluationError = "evaluation_error"
)

// DecisionOutcome carries the observed result of an executed decision,
// appended once known via the outcome callback.
type DecisionOutcome struct {
	Reward     float64        `json:"reward"` // normalized to [0,1]
	Converted  bool           `json:"converted"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	ReportedAt time.Time      `json:"reported_at"`
}

// Decision is the immutable record of one evaluation: the firing trigger,
// the triggering event, the verdict and its inputs. Only the outcome fields
// may be appended after creation.
type Decision struct {
	ID             string             `json:"id"`
	EventID        string             `json:"event_id"`
	EventType      string             `json:"event_type"`
	RecipientID    string             `json:"recipient_id"`
	TriggerID      string             `json:"trigger_id,omitempty"`
	WorkflowID     string             `json:"workflow_id,omitempty"`
	Verdict        Verdict            `json:"verdict"`
	Reason         string             `json:"reason,omitempty"`
	Score          float64            `json:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	Channel        Channel            `json:"channel,omitempty"`
	EstimatedCost  int64              `json:"estimated_cost,omitempty"`
	VariantID      string             `json:"variant_id,omitempty"`
	EnrollmentID   string             `json:"enrollment_id,omitempty"`
	Outcome        *DecisionOutcome   `json:"outcome,omitempty"`
	DecidedAt      time.Time          `json:"decided_at"`
}

// RecordOutcome appends the observed outcome. The first report wins; later
// reports are ignored so the record stays immutable.
func (d *Decision) RecordOutcome(outcome DecisionOutcome) bool {
	if d.Outcome != nil {
		return false
	}

	d.Outcome = &outcome

	return true
}
