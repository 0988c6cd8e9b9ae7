package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/dispatch"
	"github.com/groundgame/groundgame/pkg/events"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/otelhelper"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// stepResult is what one successful step execution decided: the output to
// record, where the cursor goes next, and when.
type stepResult struct {
	output   map[string]any
	nextID   *string
	delay    time.Duration
	complete bool
	goalMet  bool
}

// ProcessDueStep claims one due enrollment and executes its current step.
// A claim conflict returns persistence.ErrEnrollmentClaimConflict; the
// caller skips it. All state transitions happen here, at the step
// boundary: control suspension pauses, goal completion completes, retry
// exhaustion fails.
func (e *Engine) ProcessDueStep(ctx context.Context, due *models.Enrollment) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.process_step",
		attribute.String(otelhelper.EnrollmentIDKey, due.ID),
		attribute.String(otelhelper.WorkflowIDKey, due.WorkflowID),
		attribute.String(otelhelper.StepIDKey, due.CurrentStep),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	)
	defer span.End()

	err := e.processDueStep(ctx, due)
	if err != nil && !errors.Is(err, persistence.ErrEnrollmentClaimConflict) {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Engine) processDueStep(ctx context.Context, due *models.Enrollment) error {
	now := e.clock.Now().UTC()

	enrollment, err := e.persistence.EnrollmentRepository().ClaimEnrollment(ctx, due.ID, due.Version, e.workerID, now)
	if err != nil {
		return err
	}

	if enrollment.Status != models.EnrollmentActive {
		return nil
	}

	workflow, err := e.persistence.WorkflowRepository().WorkflowByID(ctx, enrollment.WorkflowID)
	if err != nil {
		return err
	}

	step, ok := workflow.Step(enrollment.CurrentStep)
	if !ok {
		// The definition changed under a live run; there is no safe way to
		// continue walking it.
		return e.failEnrollment(ctx, enrollment, step, fmt.Errorf("step %q no longer exists in workflow %s", enrollment.CurrentStep, workflow.ID))
	}

	mode, err := e.plane.EffectiveMode(ctx, "workflow:"+workflow.ID)
	if err != nil {
		return err
	}

	if mode == models.ModeOff {
		return e.pauseSuspended(ctx, enrollment, now)
	}

	stepOrder := workflow.StepOrder(step.ID)
	idempotencyKey := enrollment.IdempotencyKey(stepOrder)

	// At-least-once redelivery guard: a step already executed for this due
	// cycle advances the cursor without running again.
	previous, err := e.persistence.EnrollmentRepository().StepExecutionByKey(ctx, idempotencyKey)
	if err != nil && !persistence.IsNotFound(err) {
		return err
	}

	if previous != nil && previous.Status == models.StepExecutionSucceeded {
		result := resultFromExecution(step, previous)

		return e.advance(ctx, enrollment, workflow, step, result, now)
	}

	attempt := enrollment.Attempts + 1
	execution := &models.StepExecution{
		ID:             uuid.New().String(),
		EnrollmentID:   enrollment.ID,
		WorkflowID:     workflow.ID,
		StepID:         step.ID,
		StepOrder:      stepOrder,
		Attempt:        attempt,
		IdempotencyKey: idempotencyKey,
		Status:         models.StepExecutionRunning,
		Input:          enrollment.Context,
		StartedAt:      now,
	}

	if err := e.persistence.EnrollmentRepository().SaveStepExecution(ctx, execution); err != nil {
		return err
	}

	result, execErr := e.executeStep(ctx, enrollment, workflow, step)

	finished := e.clock.Now().UTC()
	execution.FinishedAt = &finished

	if execErr != nil {
		execution.Status = models.StepExecutionFailed
		execution.Error = execErr.Error()

		if saveErr := e.persistence.EnrollmentRepository().SaveStepExecution(ctx, execution); saveErr != nil {
			return saveErr
		}

		return e.handleStepFailure(ctx, enrollment, step, execution, execErr, now)
	}

	execution.Status = models.StepExecutionSucceeded
	execution.Output = result.output

	if err := e.persistence.EnrollmentRepository().SaveStepExecution(ctx, execution); err != nil {
		return err
	}

	e.publish(ctx, enrollment.RecipientID, events.StepSucceeded{
		BaseEvent:      events.NewBaseEvent(events.StepSucceededEvent),
		EnrollmentID:   enrollment.ID,
		WorkflowID:     workflow.ID,
		StepID:         step.ID,
		IdempotencyKey: idempotencyKey,
		Duration:       finished.Sub(now),
	})

	return e.advance(ctx, enrollment, workflow, step, result, now)
}

func (e *Engine) executeStep(ctx context.Context, enrollment *models.Enrollment, workflow *models.Workflow, step *models.WorkflowStep) (stepResult, error) {
	switch step.Kind {
	case models.StepMessage:
		return e.executeMessage(ctx, enrollment, workflow, step)
	case models.StepDelay:
		return stepResult{
			output: map[string]any{"delayed": step.Delay.String()},
			nextID: step.Next,
			delay:  step.Delay,
		}, nil
	case models.StepBranch:
		return e.executeBranch(enrollment, step)
	case models.StepGoal:
		return e.executeGoal(enrollment, step)
	default:
		return stepResult{}, dispatch.Permanent(fmt.Errorf("unknown step kind %q", step.Kind))
	}
}

func (e *Engine) executeMessage(ctx context.Context, enrollment *models.Enrollment, workflow *models.Workflow, step *models.WorkflowStep) (stepResult, error) {
	result := stepResult{nextID: step.Next, output: map[string]any{}}

	allowed, err := e.consent.HasConsent(ctx, enrollment.RecipientID, step.Channel)
	if err != nil {
		return stepResult{}, dispatch.Transient(err)
	}

	// Consent is rechecked at send time. A revocation mid-workflow skips
	// the send but lets the run continue to non-contact steps.
	if !allowed {
		result.output["skipped"] = "no_consent"

		e.logger.InfoContext(ctx, "Message skipped, no consent",
			"enrollment_id", enrollment.ID,
			"recipient_id", enrollment.RecipientID,
			"channel", step.Channel)

		return result, nil
	}

	variantID := ""

	if step.DecisionPointID != "" {
		variant, err := e.allocator.SelectVariant(ctx, step.DecisionPointID)
		if err != nil && !errors.Is(err, bandit.ErrNoActiveVariants) {
			return stepResult{}, dispatch.Transient(err)
		}

		if variant != nil {
			variantID = variant.ID
			result.output["variant_id"] = variantID
		}
	}

	body, err := e.renderer.Render(ctx, step.TemplateID, enrollment.Context)
	if err != nil {
		return stepResult{}, dispatch.Permanent(err)
	}

	dispatcher, ok := e.dispatchers[step.Channel]
	if !ok {
		return stepResult{}, dispatch.Permanent(fmt.Errorf("no dispatcher for channel %q", step.Channel))
	}

	sendCtx, cancel := context.WithTimeout(ctx, step.ExecutionTimeout())
	defer cancel()

	delivery := dispatch.Delivery{
		RecipientID: enrollment.RecipientID,
		Channel:     step.Channel,
		TemplateID:  step.TemplateID,
		VariantID:   variantID,
		Body:        body,
		Metadata: map[string]any{
			"enrollment_id": enrollment.ID,
			"workflow_id":   workflow.ID,
			"step_id":       step.ID,
		},
	}

	if err := dispatcher.Dispatch(sendCtx, delivery); err != nil {
		if dispatch.IsPermanent(err) || dispatch.IsTransient(err) {
			return stepResult{}, err
		}

		// Unclassified provider errors get the retry benefit of the doubt.
		return stepResult{}, dispatch.Transient(err)
	}

	now := e.clock.Now().UTC()

	if err := e.ledger.RecordContact(ctx, enrollment.RecipientID, step.Channel, now); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record contact", "error", err)
	}

	if step.EstimatedCost > 0 {
		if err := e.ledger.RecordSpend(ctx, "workflow:"+workflow.ID, step.Channel, step.EstimatedCost, now); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record spend", "error", err)
		}
	}

	result.output["dispatched"] = true

	return result, nil
}

// executeBranch picks the first edge whose condition matches the
// enrollment context. No match falls through to the default edge.
func (e *Engine) executeBranch(enrollment *models.Enrollment, step *models.WorkflowStep) (stepResult, error) {
	contextEvent := enrollment.ContextEvent()

	for i, edge := range step.Branches {
		matched, err := edge.When.Match(contextEvent)
		if err != nil {
			return stepResult{}, dispatch.Permanent(err)
		}

		if matched {
			next := edge.Next

			return stepResult{
				output: map[string]any{"edge": i, "next": next},
				nextID: &next,
			}, nil
		}
	}

	next := step.DefaultNext

	return stepResult{
		output: map[string]any{"edge": "default", "next": next},
		nextID: &next,
	}, nil
}

func (e *Engine) executeGoal(enrollment *models.Enrollment, step *models.WorkflowStep) (stepResult, error) {
	met, err := step.Goal.Match(enrollment.ContextEvent())
	if err != nil {
		return stepResult{}, dispatch.Permanent(err)
	}

	if met {
		return stepResult{
			output:   map[string]any{"goal_met": true},
			complete: true,
			goalMet:  true,
		}, nil
	}

	return stepResult{
		output: map[string]any{"goal_met": false},
		nextID: step.Next,
	}, nil
}

// advance moves the cursor per the step result: onward, or to completion
// when the path ends.
func (e *Engine) advance(ctx context.Context, enrollment *models.Enrollment, workflow *models.Workflow, step *models.WorkflowStep, result stepResult, now time.Time) error {
	if result.complete || result.nextID == nil {
		return e.completeEnrollment(ctx, enrollment, result.goalMet, now)
	}

	enrollment.CurrentStep = *result.nextID
	enrollment.NextStepAt = now.Add(result.delay)
	enrollment.Path = append(enrollment.Path, *result.nextID)
	enrollment.Attempts = 0
	enrollment.ClaimedBy = ""
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = now
	enrollment.Version++

	return e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment)
}

func (e *Engine) completeEnrollment(ctx context.Context, enrollment *models.Enrollment, goalMet bool, now time.Time) error {
	enrollment.Status = models.EnrollmentCompleted
	enrollment.FinishedAt = &now
	enrollment.ClaimedBy = ""
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = now
	enrollment.Version++

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Enrollment completed",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"goal_met", goalMet)

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		RecipientID:  enrollment.RecipientID,
		Path:         enrollment.Path,
		GoalMet:      goalMet,
	})

	return nil
}

func (e *Engine) pauseSuspended(ctx context.Context, enrollment *models.Enrollment, now time.Time) error {
	enrollment.Status = models.EnrollmentPaused
	enrollment.PausedAt = &now
	enrollment.PauseCause = models.PauseCauseSuspended
	enrollment.ClaimedBy = ""
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = now
	enrollment.Version++

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Enrollment paused, workflow suspended",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"step_id", enrollment.CurrentStep)

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentPaused{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentPausedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		StepID:       enrollment.CurrentStep,
		Reason:       models.ReasonSuspended,
	})

	return nil
}

func (e *Engine) handleStepFailure(ctx context.Context, enrollment *models.Enrollment, step *models.WorkflowStep, execution *models.StepExecution, execErr error, now time.Time) error {
	willRetry := dispatch.IsTransient(execErr) && execution.Attempt < step.RetryBudget()

	e.publish(ctx, enrollment.RecipientID, events.StepFailed{
		BaseEvent:      events.NewBaseEvent(events.StepFailedEvent),
		EnrollmentID:   enrollment.ID,
		WorkflowID:     enrollment.WorkflowID,
		StepID:         step.ID,
		IdempotencyKey: execution.IdempotencyKey,
		Error:          execErr.Error(),
		Attempt:        execution.Attempt,
		WillRetry:      willRetry,
	})

	if !willRetry {
		return e.failEnrollment(ctx, enrollment, step, execErr)
	}

	enrollment.Attempts = execution.Attempt
	enrollment.NextStepAt = now.Add(retryBackoff(execution.Attempt))
	enrollment.ClaimedBy = ""
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = now
	enrollment.Version++

	e.logger.WarnContext(ctx, "Step failed, retrying",
		"enrollment_id", enrollment.ID,
		"step_id", step.ID,
		"attempt", execution.Attempt,
		"next_attempt_at", enrollment.NextStepAt,
		"error", execErr)

	return e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment)
}

func (e *Engine) failEnrollment(ctx context.Context, enrollment *models.Enrollment, step *models.WorkflowStep, cause error) error {
	now := e.clock.Now().UTC()

	enrollment.Status = models.EnrollmentFailed
	enrollment.FinishedAt = &now
	enrollment.ClaimedBy = ""
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = now
	enrollment.Version++

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}

	stepID := enrollment.CurrentStep
	if step != nil {
		stepID = step.ID
	}

	e.logger.ErrorContext(ctx, "Enrollment failed",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"step_id", stepID,
		"error", cause)

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		StepID:       stepID,
		Error:        cause.Error(),
		Attempts:     enrollment.Attempts,
	})

	return nil
}

// resultFromExecution rebuilds the advance decision from a recorded
// execution, for redeliveries of an already-succeeded step.
func resultFromExecution(step *models.WorkflowStep, execution *models.StepExecution) stepResult {
	result := stepResult{output: execution.Output, nextID: step.Next}

	switch step.Kind {
	case models.StepDelay:
		result.delay = step.Delay
	case models.StepBranch:
		if next, ok := execution.Output["next"].(string); ok {
			result.nextID = &next
		}
	case models.StepGoal:
		if met, ok := execution.Output["goal_met"].(bool); ok && met {
			result.complete = true
			result.goalMet = true
		}
	case models.StepMessage:
	}

	return result
}
