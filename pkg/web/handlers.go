// Package web provides the HTTP API: event intake, decision inspection,
// enrollment management and the control plane surface.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/engine"
	"github.com/groundgame/groundgame/pkg/evaluator"
	"github.com/groundgame/groundgame/pkg/eventbus"
	"github.com/groundgame/groundgame/pkg/events"
	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

type APIHandlers struct {
	evaluator   *evaluator.Evaluator
	engine      *engine.Engine
	plane       *control.Plane
	allocator   *bandit.Allocator
	persistence persistence.Persistence
	ledger      ledger.Ledger
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	clock       clockwork.Clock
}

func NewAPIHandlers(
	eval *evaluator.Evaluator,
	eng *engine.Engine,
	plane *control.Plane,
	allocator *bandit.Allocator,
	persist persistence.Persistence,
	contactLedger ledger.Ledger,
	publisher eventbus.EventPublisher,
	validate *validator.Validate,
	clock clockwork.Clock,
) *APIHandlers {
	return &APIHandlers{
		evaluator:   eval,
		engine:      eng,
		plane:       plane,
		allocator:   allocator,
		persistence: persist,
		ledger:      contactLedger,
		publisher:   publisher,
		validator:   validate,
		clock:       clock,
	}
}

// SubmitEvent evaluates one inbound event and returns the decision.
func (h *APIHandlers) SubmitEvent(c fiber.Ctx) error {
	var req SubmitEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := models.Event{
		ID:          uuid.New().String(),
		Type:        req.Type,
		RecipientID: req.RecipientID,
		Topic:       req.Topic,
		OccurredAt:  h.clock.Now().UTC(),
		Fields:      req.Fields,
	}

	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}

	decision, err := h.evaluator.Evaluate(c.Context(), event)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(decision)
}

func (h *APIHandlers) GetDecisions(c fiber.Ctx) error {
	limit := 100

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	decisions, err := h.persistence.DecisionRepository().Decisions(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"decisions": decisions, "count": len(decisions)})
}

func (h *APIHandlers) GetDecision(c fiber.Ctx) error {
	decision, err := h.persistence.DecisionRepository().DecisionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(decision)
}

// RecordOutcome attaches the observed result to a decision and feeds the
// reward back to the variant allocator.
func (h *APIHandlers) RecordOutcome(c fiber.Ctx) error {
	var req RecordOutcomeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome := models.DecisionOutcome{
		Reward:     req.Reward,
		Converted:  req.Converted,
		Metrics:    req.Metrics,
		ReportedAt: h.clock.Now().UTC(),
	}

	decision, err := h.persistence.DecisionRepository().AttachOutcome(c.Context(), c.Params("id"), outcome)
	if err != nil {
		return handleError(c, err)
	}

	if decision.VariantID != "" {
		if err := h.allocator.RecordOutcome(c.Context(), decision.VariantID, req.Reward, outcome.ReportedAt); err != nil {
			return handleError(c, err)
		}
	}

	if h.publisher != nil {
		recorded := events.OutcomeRecorded{
			BaseEvent:  events.NewBaseEvent(events.OutcomeRecordedEvent),
			DecisionID: decision.ID,
			VariantID:  decision.VariantID,
			Reward:     req.Reward,
			Converted:  req.Converted,
		}
		_ = h.publisher.Publish(c.Context(), decision.RecipientID, recorded)
	}

	return c.JSON(decision)
}

// RecordStepOutcome rewards the variant a workflow step selected. The step
// execution is addressed by enrollment and step order, the same key the
// engine uses for idempotency, so decision points inside workflows learn
// from their outcomes too.
func (h *APIHandlers) RecordStepOutcome(c fiber.Ctx) error {
	var req RecordOutcomeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	order, err := strconv.Atoi(c.Params("order"))
	if err != nil || order < 0 {
		return badRequest(c, "Invalid step order")
	}

	repo := h.persistence.EnrollmentRepository()

	execution, err := repo.StepExecutionByKey(c.Context(), c.Params("id")+":"+strconv.Itoa(order))
	if err != nil {
		return handleError(c, err)
	}

	variantID, _ := execution.Output["variant_id"].(string)
	if variantID == "" {
		return badRequest(c, "Step recorded no variant selection")
	}

	if _, reported := execution.Output["outcome_reward"]; reported {
		return handleError(c, persistence.ErrOutcomeAlreadyRecorded)
	}

	reportedAt := h.clock.Now().UTC()

	if err := h.allocator.RecordOutcome(c.Context(), variantID, req.Reward, reportedAt); err != nil {
		return handleError(c, err)
	}

	execution.Output["outcome_reward"] = req.Reward
	execution.Output["outcome_reported_at"] = reportedAt

	if err := repo.SaveStepExecution(c.Context(), execution); err != nil {
		return internalError(c, err)
	}

	if h.publisher != nil {
		recorded := events.OutcomeRecorded{
			BaseEvent:    events.NewBaseEvent(events.OutcomeRecordedEvent),
			EnrollmentID: execution.EnrollmentID,
			StepID:       execution.StepID,
			VariantID:    variantID,
			Reward:       req.Reward,
			Converted:    req.Converted,
		}
		_ = h.publisher.Publish(c.Context(), execution.EnrollmentID, recorded)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetTriggers(c fiber.Ctx) error {
	triggers, err := h.persistence.TriggerRepository().Triggers(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers, "count": len(triggers)})
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.persistence.TriggerRepository().TriggerByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := req.Condition.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	now := h.clock.Now().UTC()

	trigger := &models.Trigger{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Condition:   req.Condition,
		Plan:        req.Plan,
		Priority:    req.Priority,
		Cooldown:    req.Cooldown,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	if err := h.persistence.TriggerRepository().SaveTrigger(c.Context(), trigger); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

// DeactivateTrigger retires a trigger. Triggers are never deleted; the
// decision log keeps referencing them.
func (h *APIHandlers) DeactivateTrigger(c fiber.Ctx) error {
	if err := h.persistence.TriggerRepository().DeactivateTrigger(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateEnrollment(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, started, err := h.engine.Enroll(c.Context(), req.WorkflowID, req.RecipientID, req.Context)
	if err != nil {
		return handleError(c, err)
	}

	status := fiber.StatusOK
	if started {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(enrollment)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.persistence.EnrollmentRepository().EnrollmentByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	executions, err := h.persistence.EnrollmentRepository().StepExecutions(c.Context(), enrollment.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"enrollment": enrollment, "executions": executions})
}

func (h *APIHandlers) PauseEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.Pause(c.Context(), c.Params("id"), "operator request")
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) ResumeEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) StopEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.Stop(c.Context(), c.Params("id"), "operator request")
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(enrollment)
}

// SetControl changes a scope's operating mode.
func (h *APIHandlers) SetControl(c fiber.Ctx) error {
	var req SetControlRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	scope := c.Params("scope")

	// Read the outgoing mode before the change; the audit event reports
	// both sides of the transition.
	fromMode, err := h.plane.EffectiveMode(c.Context(), scope)
	if err != nil {
		return internalError(c, err)
	}

	state, err := h.plane.SetMode(c.Context(), control.ChangeRequest{
		Scope:     scope,
		Mode:      req.Mode,
		Duration:  req.Duration,
		AutoRenew: req.AutoRenew,
		Actor:     req.Actor,
		Reason:    req.Reason,
	})
	if err != nil {
		if control.IsInvalidChange(err) {
			return badRequest(c, err.Error())
		}

		return handleError(c, err)
	}

	if h.publisher != nil {
		changed := events.ControlChanged{
			BaseEvent: events.NewBaseEvent(events.ControlChangedEvent),
			Scope:     state.Scope,
			FromMode:  fromMode,
			ToMode:    state.Mode,
			Actor:     req.Actor,
		}
		_ = h.publisher.Publish(c.Context(), state.Scope, changed)
	}

	return c.JSON(state)
}

// GetControl returns the stored record alongside the computed effective
// mode, which is the only value callers should act on.
func (h *APIHandlers) GetControl(c fiber.Ctx) error {
	scope := c.Params("scope")

	effective, err := h.plane.EffectiveMode(c.Context(), scope)
	if err != nil {
		return internalError(c, err)
	}

	state, err := h.plane.State(c.Context(), scope)
	if err != nil && !persistence.IsNotFound(err) {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"scope":          scope,
		"effective_mode": effective,
		"state":          state,
	})
}

func (h *APIHandlers) GetControlHistory(c fiber.Ctx) error {
	history, err := h.plane.History(c.Context(), c.Params("scope"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"history": history, "count": len(history)})
}

func (h *APIHandlers) GetBudget(c fiber.Ctx) error {
	scope := c.Params("scope")
	channel := models.Channel(c.Query("channel"))

	if channel == models.ChannelUnknown {
		return badRequest(c, "channel query parameter is required")
	}

	records, err := h.ledger.BudgetStatus(c.Context(), scope, channel, h.clock.Now())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"scope": scope, "channel": channel, "budgets": records})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.persistence.HealthCheck(c.Context())
	ledgerErr := h.ledger.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if storeErr != nil || ledgerErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": checkResult(storeErr),
			"ledger":      checkResult(ledgerErr),
		},
		"timestamp": time.Now().UTC(),
	})
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}

	return "ok"
}
