// Package evaluator turns inbound events into go/hold/reject decisions.
//
// The pipeline is fixed: match, priority selection, cooldown, control,
// fatigue, budget, then commit. Every evaluation writes a decision record,
// including holds and rejects, so the log explains every inaction. An
// internal failure mid-pipeline degrades to a hold, never to a send.
package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/eventbus"
	"github.com/groundgame/groundgame/pkg/events"
	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/otelhelper"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// DefaultFatigueLimit is the fatigue score at and above which contacts are
// held. The score weighs daily contacts at 10, weekly at 3 and monthly at
// 1, so the default allows roughly three contacts in a day before holding.
const DefaultFatigueLimit = 30

// Enroller starts a workflow enrollment for a go verdict. Implemented by
// the engine; the indirection keeps the evaluator testable without one.
type Enroller interface {
	Enroll(ctx context.Context, workflowID, recipientID string, eventContext map[string]any) (*models.Enrollment, bool, error)
}

// TieBreak orders triggers that share the same priority.
type TieBreak func(a, b *models.Trigger) bool

// ShortestCooldownFirst prefers the trigger with the smaller cooldown on
// a priority tie: the one built to fire more readily wins. Name order
// settles exact ties so evaluation stays deterministic.
func ShortestCooldownFirst(a, b *models.Trigger) bool {
	if a.Cooldown != b.Cooldown {
		return a.Cooldown < b.Cooldown
	}

	return a.Name < b.Name
}

type Evaluator struct {
	persistence  persistence.Persistence
	ledger       ledger.Ledger
	plane        *control.Plane
	allocator    *bandit.Allocator
	enroller     Enroller
	publisher    eventbus.EventPublisher
	clock        clockwork.Clock
	logger       *slog.Logger
	tracer       trace.Tracer
	fatigueLimit int64
	tieBreak     TieBreak
}

type Option func(*Evaluator)

// WithFatigueLimit overrides the hold threshold for the fatigue score.
func WithFatigueLimit(limit int64) Option {
	return func(e *Evaluator) {
		e.fatigueLimit = limit
	}
}

// WithTieBreak overrides the ordering of same-priority triggers.
func WithTieBreak(tieBreak TieBreak) Option {
	return func(e *Evaluator) {
		e.tieBreak = tieBreak
	}
}

// WithTracer enables span emission for each evaluation.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Evaluator) {
		e.tracer = tracer
	}
}

func NewEvaluator(
	persist persistence.Persistence,
	contactLedger ledger.Ledger,
	plane *control.Plane,
	allocator *bandit.Allocator,
	enroller Enroller,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	opts ...Option,
) *Evaluator {
	evaluator := &Evaluator{
		persistence:  persist,
		ledger:       contactLedger,
		plane:        plane,
		allocator:    allocator,
		enroller:     enroller,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.With("module", "evaluator"),
		tracer:       tracenoop.NewTracerProvider().Tracer("evaluator"),
		fatigueLimit: DefaultFatigueLimit,
		tieBreak:     ShortestCooldownFirst,
	}

	for _, opt := range opts {
		opt(evaluator)
	}

	return evaluator
}

// Evaluate runs one event through the pipeline and returns the persisted
// decision. The returned error is non-nil only when the decision record
// itself could not be written; pipeline failures surface as hold verdicts.
func (e *Evaluator) Evaluate(ctx context.Context, event models.Event) (*models.Decision, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "evaluator.evaluate",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.RecipientIDKey, event.RecipientID),
	)
	defer span.End()

	now := e.clock.Now().UTC()

	decision := &models.Decision{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		EventType:   event.Type,
		RecipientID: event.RecipientID,
		DecidedAt:   now,
	}

	winner, err := e.selectTrigger(ctx, event)
	if err != nil {
		return e.finishWithError(ctx, decision, event, err)
	}

	if winner == nil {
		decision.Verdict = models.VerdictReject
		decision.Reason = models.ReasonNoMatch

		return e.finish(ctx, decision, event)
	}

	decision.TriggerID = winner.ID
	decision.WorkflowID = winner.Plan.WorkflowID
	decision.Channel = winner.Plan.Channel
	decision.EstimatedCost = winner.Plan.EstimatedCost
	decision.Score, decision.ScoreBreakdown = scoreEvent(winner, event)

	if reason, err := e.checkGates(ctx, winner, event, now); err != nil {
		return e.finishWithError(ctx, decision, event, err)
	} else if reason != "" {
		decision.Verdict = models.VerdictHold
		decision.Reason = reason

		return e.finish(ctx, decision, event)
	}

	if err := e.commit(ctx, decision, winner, event, now); err != nil {
		return e.finishWithError(ctx, decision, event, err)
	}

	decision.Verdict = models.VerdictGo

	return e.finish(ctx, decision, event)
}

// selectTrigger returns the highest-priority matching trigger, or nil when
// nothing matches.
func (e *Evaluator) selectTrigger(ctx context.Context, event models.Event) (*models.Trigger, error) {
	triggers, err := e.persistence.TriggerRepository().ActiveTriggers(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Trigger

	for _, trigger := range triggers {
		matched, err := trigger.Condition.Match(event)
		if err != nil {
			return nil, err
		}

		if matched {
			candidates = append(candidates, trigger)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}

		return e.tieBreak(candidates[i], candidates[j])
	})

	return candidates[0], nil
}

// checkGates runs the hold checks in their fixed order and returns the
// first hold reason, or empty when the trigger may fire.
func (e *Evaluator) checkGates(ctx context.Context, trigger *models.Trigger, event models.Event, now time.Time) (string, error) {
	if trigger.OnCooldown(now) {
		return models.ReasonCooldown, nil
	}

	mode, err := e.plane.EffectiveMode(ctx, trigger.ControlScope(event))
	if err != nil {
		return "", err
	}

	if mode == models.ModeOff {
		return models.ReasonSuspended, nil
	}

	fatigue, err := e.ledger.Fatigue(ctx, event.RecipientID, trigger.Plan.Channel, now)
	if err != nil {
		return "", err
	}

	if fatigue.Score() >= e.fatigueLimit {
		return models.ReasonFatigueLimit, nil
	}

	budgets, err := e.ledger.BudgetStatus(ctx, trigger.BudgetScope(), trigger.Plan.Channel, now)
	if err != nil {
		return "", err
	}

	for _, budget := range budgets {
		if budget.Remaining() < trigger.Plan.EstimatedCost {
			return models.ReasonBudgetExhausted, nil
		}
	}

	return "", nil
}

// commit performs the side effects of a go verdict: variant selection,
// enrollment and the fire mark. Contact and spend land in the ledger when
// a message step actually dispatches, so one send is counted exactly once
// and a skipped send not at all.
func (e *Evaluator) commit(ctx context.Context, decision *models.Decision, trigger *models.Trigger, event models.Event, now time.Time) error {
	if trigger.Plan.DecisionPointID != "" {
		variant, err := e.allocator.SelectVariant(ctx, trigger.Plan.DecisionPointID)
		if err != nil && !errors.Is(err, bandit.ErrNoActiveVariants) {
			return err
		}

		if variant != nil {
			decision.VariantID = variant.ID
		}
	}

	eventContext := map[string]any{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"decision_id": decision.ID,
	}

	for name, value := range event.Fields {
		eventContext[name] = value
	}

	if decision.VariantID != "" {
		eventContext["variant_id"] = decision.VariantID
	}

	enrollment, _, err := e.enroller.Enroll(ctx, trigger.Plan.WorkflowID, event.RecipientID, eventContext)
	if err != nil {
		return err
	}

	decision.EnrollmentID = enrollment.ID

	trigger.MarkFired(now)

	return e.persistence.TriggerRepository().SaveTrigger(ctx, trigger)
}

// finish persists the decision and publishes the bus notifications.
func (e *Evaluator) finish(ctx context.Context, decision *models.Decision, event models.Event) (*models.Decision, error) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(otelhelper.DecisionIDKey, decision.ID),
		attribute.String(otelhelper.VerdictKey, string(decision.Verdict)),
	)

	if err := e.persistence.DecisionRepository().SaveDecision(ctx, decision); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Decision made",
		"decision_id", decision.ID,
		"event_id", decision.EventID,
		"recipient_id", decision.RecipientID,
		"trigger_id", decision.TriggerID,
		"verdict", decision.Verdict,
		"reason", decision.Reason)

	e.publishDecision(ctx, decision, event)

	return decision, nil
}

// finishWithError converts an internal failure into a hold. The decision
// log records the inaction; the cause only goes to the log stream.
func (e *Evaluator) finishWithError(ctx context.Context, decision *models.Decision, event models.Event, cause error) (*models.Decision, error) {
	e.logger.ErrorContext(ctx, "Evaluation failed, holding",
		"event_id", decision.EventID,
		"trigger_id", decision.TriggerID,
		"error", cause)
	otelhelper.SetError(trace.SpanFromContext(ctx), cause)

	decision.Verdict = models.VerdictHold
	decision.Reason = models.ReasonEvaluationError

	return e.finish(ctx, decision, event)
}

func (e *Evaluator) publishDecision(ctx context.Context, decision *models.Decision, event models.Event) {
	if e.publisher == nil {
		return
	}

	made := events.DecisionMade{
		BaseEvent:   events.NewBaseEvent(events.DecisionMadeEvent),
		DecisionID:  decision.ID,
		EventID:     decision.EventID,
		RecipientID: decision.RecipientID,
		TriggerID:   decision.TriggerID,
		Verdict:     decision.Verdict,
		Reason:      decision.Reason,
	}

	if err := e.publisher.Publish(ctx, decision.RecipientID, made); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish decision event", "error", err)
	}

	if decision.Verdict != models.VerdictGo {
		return
	}

	fired := events.TriggerFired{
		BaseEvent:    events.NewBaseEvent(events.TriggerFiredEvent),
		TriggerID:    decision.TriggerID,
		DecisionID:   decision.ID,
		RecipientID:  decision.RecipientID,
		WorkflowID:   decision.WorkflowID,
		Channel:      decision.Channel,
		VariantID:    decision.VariantID,
		EnrollmentID: decision.EnrollmentID,
	}

	if err := e.publisher.Publish(ctx, decision.RecipientID, fired); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish trigger fired event", "error", err)
	}
}

// scoreEvent computes the weighted score and its per-factor breakdown.
// Missing or non-numeric fields contribute zero.
func scoreEvent(trigger *models.Trigger, event models.Event) (float64, map[string]float64) {
	if len(trigger.Plan.ScoreFactors) == 0 {
		return 0, nil
	}

	breakdown := make(map[string]float64, len(trigger.Plan.ScoreFactors))
	total := 0.0

	for _, factor := range trigger.Plan.ScoreFactors {
		contribution := 0.0

		if raw, ok := event.Field(factor.Field); ok {
			if value, ok := models.NumericValue(raw); ok {
				contribution = value * factor.Weight
			}
		}

		breakdown[factor.Name] = contribution
		total += contribution
	}

	return total, breakdown
}
