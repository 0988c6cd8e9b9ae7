// Package engine runs workflow enrollments: it starts them, walks their
// steps when due, and applies the pause/resume/stop transitions. All step
// discovery is pull-based; workers poll for due enrollments and claim them
// optimistically, so a crashed worker loses nothing but time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/dispatch"
	"github.com/groundgame/groundgame/pkg/eventbus"
	"github.com/groundgame/groundgame/pkg/events"
	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

var (
	ErrWorkflowNotEnrollable = errors.New("workflow is not enrollable")
	ErrInvalidTransition     = errors.New("invalid enrollment transition")
)

type Engine struct {
	persistence persistence.Persistence
	plane       *control.Plane
	ledger      ledger.Ledger
	allocator   *bandit.Allocator
	dispatchers map[models.Channel]dispatch.ChannelDispatcher
	renderer    dispatch.ContentRenderer
	consent     dispatch.ConsentChecker
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	workerID    string
}

type Config struct {
	Persistence persistence.Persistence
	Plane       *control.Plane
	Ledger      ledger.Ledger
	Allocator   *bandit.Allocator
	Dispatchers map[models.Channel]dispatch.ChannelDispatcher
	Renderer    dispatch.ContentRenderer
	Consent     dispatch.ConsentChecker
	Publisher   eventbus.EventPublisher
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Tracer      trace.Tracer
	WorkerID    string
}

func NewEngine(cfg Config) *Engine {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("engine")
	}

	return &Engine{
		persistence: cfg.Persistence,
		plane:       cfg.Plane,
		ledger:      cfg.Ledger,
		allocator:   cfg.Allocator,
		dispatchers: cfg.Dispatchers,
		renderer:    cfg.Renderer,
		consent:     cfg.Consent,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("module", "engine", "worker_id", workerID),
		tracer:      tracer,
		workerID:    workerID,
	}
}

// Enroll starts a workflow run for a recipient. For non-re-entrant
// workflows the call is idempotent: when an active or paused run already
// exists it is returned unchanged, with started=false.
func (e *Engine) Enroll(ctx context.Context, workflowID, recipientID string, eventContext map[string]any) (*models.Enrollment, bool, error) {
	workflow, err := e.persistence.WorkflowRepository().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, false, fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotEnrollable, workflowID, workflow.Status)
	}

	firstStep, ok := workflow.FirstStep()
	if !ok {
		return nil, false, fmt.Errorf("%w: workflow %s has no steps", ErrWorkflowNotEnrollable, workflowID)
	}

	if !workflow.AllowReentry {
		existing, err := e.persistence.EnrollmentRepository().ActiveEnrollment(ctx, workflowID, recipientID)
		if err != nil && !persistence.IsNotFound(err) {
			return nil, false, err
		}

		if existing != nil {
			return existing, false, nil
		}
	}

	now := e.clock.Now().UTC()

	enrollment := &models.Enrollment{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		RecipientID: recipientID,
		Status:      models.EnrollmentActive,
		CurrentStep: firstStep.ID,
		NextStepAt:  now,
		Context:     eventContext,
		Path:        []string{firstStep.ID},
		EnrolledAt:  now,
		UpdatedAt:   now,
	}

	if err := e.persistence.EnrollmentRepository().CreateEnrollment(ctx, enrollment); err != nil {
		// Two concurrent enrollments race on the unique index; the loser
		// adopts the winner's run.
		if persistence.IsDuplicateEnrollment(err) {
			existing, lookupErr := e.persistence.EnrollmentRepository().ActiveEnrollment(ctx, workflowID, recipientID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}

			return existing, false, nil
		}

		return nil, false, err
	}

	e.logger.InfoContext(ctx, "Enrollment started",
		"enrollment_id", enrollment.ID,
		"workflow_id", workflowID,
		"recipient_id", recipientID)

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentStarted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentStartedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   workflowID,
		RecipientID:  recipientID,
		FirstStepID:  firstStep.ID,
	})

	return enrollment, true, nil
}

// Pause suspends an active enrollment at its current step boundary. The
// cursor is untouched, so Resume picks up exactly where the run stopped.
func (e *Engine) Pause(ctx context.Context, enrollmentID, reason string) (*models.Enrollment, error) {
	enrollment, err := e.persistence.EnrollmentRepository().EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentActive {
		return nil, fmt.Errorf("%w: cannot pause a %s enrollment", ErrInvalidTransition, enrollment.Status)
	}

	now := e.clock.Now().UTC()
	enrollment.Status = models.EnrollmentPaused
	enrollment.PausedAt = &now
	enrollment.PauseCause = models.PauseCauseOperator
	enrollment.UpdatedAt = now

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentPaused{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentPausedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		StepID:       enrollment.CurrentStep,
		Reason:       reason,
	})

	return enrollment, nil
}

// Resume reactivates a paused enrollment at its stored cursor. The next
// step becomes due immediately; elapsed pause time is not replayed.
func (e *Engine) Resume(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := e.persistence.EnrollmentRepository().EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s enrollment", ErrInvalidTransition, enrollment.Status)
	}

	now := e.clock.Now().UTC()
	enrollment.Status = models.EnrollmentActive
	enrollment.PausedAt = nil
	enrollment.PauseCause = ""
	enrollment.NextStepAt = now
	enrollment.UpdatedAt = now

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentResumed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		StepID:       enrollment.CurrentStep,
	})

	return enrollment, nil
}

// Stop terminates an active or paused enrollment. Stopped runs never
// restart; a new enrollment is a new run.
func (e *Engine) Stop(ctx context.Context, enrollmentID, reason string) (*models.Enrollment, error) {
	enrollment, err := e.persistence.EnrollmentRepository().EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status.Terminal() {
		return nil, fmt.Errorf("%w: enrollment already %s", ErrInvalidTransition, enrollment.Status)
	}

	now := e.clock.Now().UTC()
	enrollment.Status = models.EnrollmentStopped
	enrollment.FinishedAt = &now
	enrollment.UpdatedAt = now

	if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	e.publish(ctx, enrollment.RecipientID, events.EnrollmentStopped{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentStoppedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		RecipientID:  enrollment.RecipientID,
		Reason:       reason,
	})

	return enrollment, nil
}

// ResumeSuspended reactivates enrollments that were paused by control
// suspension once their workflow scope reads on again. Operator pauses
// are left alone; those lift only on an explicit Resume. Returns how
// many enrollments were resumed.
func (e *Engine) ResumeSuspended(ctx context.Context) (int, error) {
	suspended, err := e.persistence.EnrollmentRepository().SuspendedEnrollments(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, enrollment := range suspended {
		mode, err := e.plane.EffectiveMode(ctx, "workflow:"+enrollment.WorkflowID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to read control mode",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		if mode != models.ModeOn {
			continue
		}

		now := e.clock.Now().UTC()
		enrollment.Status = models.EnrollmentActive
		enrollment.PausedAt = nil
		enrollment.PauseCause = ""
		enrollment.NextStepAt = now
		enrollment.UpdatedAt = now

		if err := e.persistence.EnrollmentRepository().UpdateEnrollment(ctx, enrollment); err != nil {
			e.logger.ErrorContext(ctx, "Failed to resume suspended enrollment",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		resumed++

		e.logger.InfoContext(ctx, "Enrollment resumed, suspension lifted",
			"enrollment_id", enrollment.ID,
			"workflow_id", enrollment.WorkflowID,
			"step_id", enrollment.CurrentStep)

		e.publish(ctx, enrollment.RecipientID, events.EnrollmentResumed{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent),
			EnrollmentID: enrollment.ID,
			WorkflowID:   enrollment.WorkflowID,
			StepID:       enrollment.CurrentStep,
		})
	}

	return resumed, nil
}

// ProcessDue claims and processes up to limit due enrollments, returning
// how many were processed. Claim conflicts are skipped silently; the
// winning worker owns those.
func (e *Engine) ProcessDue(ctx context.Context, limit int) (int, error) {
	now := e.clock.Now()

	due, err := e.persistence.EnrollmentRepository().DueEnrollments(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0

	for _, enrollment := range due {
		if err := e.ProcessDueStep(ctx, enrollment); err != nil {
			if persistence.IsClaimConflict(err) {
				continue
			}

			e.logger.ErrorContext(ctx, "Failed to process due step",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		processed++
	}

	return processed, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func retryBackoff(attempt int) time.Duration {
	backoff := time.Duration(attempt) * 30 * time.Second
	if backoff > 10*time.Minute {
		backoff = 10 * time.Minute
	}

	return backoff
}
