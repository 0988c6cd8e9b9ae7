package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundgame/groundgame/pkg/bandit"
	"github.com/groundgame/groundgame/pkg/control"
	"github.com/groundgame/groundgame/pkg/dispatch"
	"github.com/groundgame/groundgame/pkg/engine"
	"github.com/groundgame/groundgame/pkg/evaluator"
	"github.com/groundgame/groundgame/pkg/eventbus"
	"github.com/groundgame/groundgame/pkg/events"
	ledgermemory "github.com/groundgame/groundgame/pkg/ledger/memory"
	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence/memory"
)

// capturingPublisher keeps published events for assertions.
type capturingPublisher struct {
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

type webFixture struct {
	app     *fiber.App
	persist *memory.Persistence
	ledger  *ledgermemory.Ledger
	engine  *engine.Engine
	bus     *capturingPublisher
	clock   *clockwork.FakeClock
}

func setupTestApp(t *testing.T) *webFixture {
	t.Helper()

	persist := memory.NewPersistence()
	contactLedger := ledgermemory.NewLedger()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	plane := control.NewPlane(persist.ControlRepository(), clock, logger)
	allocator := bandit.NewAllocator(persist.VariantRepository(), rand.New(rand.NewSource(1)), logger)

	eng := engine.NewEngine(engine.Config{
		Persistence: persist,
		Plane:       plane,
		Ledger:      contactLedger,
		Allocator:   allocator,
		Dispatchers: map[models.Channel]dispatch.ChannelDispatcher{
			models.ChannelEmail: dispatch.NewNoopDispatcher(logger),
			models.ChannelSMS:   dispatch.NewNoopDispatcher(logger),
		},
		Renderer: dispatch.PassthroughRenderer{},
		Consent:  &dispatch.StaticConsent{Default: true},
		Clock:    clock,
		Logger:   logger,
		WorkerID: "worker-test",
	})

	eval := evaluator.NewEvaluator(persist, contactLedger, plane, allocator, eng, nil, clock, logger)
	bus := &capturingPublisher{}

	handlers := NewAPIHandlers(eval, eng, plane, allocator, persist, contactLedger, bus,
		validator.New(validator.WithRequiredStructEnabled()), clock)

	return &webFixture{
		app:     NewApp(handlers),
		persist: persist,
		ledger:  contactLedger,
		engine:  eng,
		bus:     bus,
		clock:   clock,
	}
}

func (f *webFixture) request(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (f *webFixture) seedWorkflowAndTrigger(t *testing.T) {
	t.Helper()

	ctx := context.Background()

	workflow := &models.Workflow{
		ID:     "wf-thanks",
		Name:   "Donation thanks",
		Status: models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{ID: "send", Name: "Send", Kind: models.StepMessage, Channel: models.ChannelEmail, TemplateID: "tpl"},
		},
	}
	require.NoError(t, f.persist.SaveWorkflow(ctx, workflow))

	trigger := &models.Trigger{
		ID:        "trg-thanks",
		Name:      "Donation thank-you",
		Condition: models.Condition{Field: "type", Op: models.OpEqual, Value: "donation.created"},
		Plan:      models.ActionPlan{WorkflowID: "wf-thanks", Channel: models.ChannelEmail},
		Active:    true,
	}
	require.NoError(t, f.persist.SaveTrigger(ctx, trigger))
}

func TestHealthCheck(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestSubmitEventReturnsDecision(t *testing.T) {
	fixture := setupTestApp(t)
	fixture.seedWorkflowAndTrigger(t)

	resp := fixture.request(t, http.MethodPost, "/events", map[string]any{
		"type":         "donation.created",
		"recipient_id": "r-1",
		"fields":       map[string]any{"amount": 50},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var decision models.Decision
	decodeBody(t, resp, &decision)

	assert.Equal(t, models.VerdictGo, decision.Verdict)
	assert.Equal(t, "trg-thanks", decision.TriggerID)
	assert.NotEmpty(t, decision.EnrollmentID)
}

func TestSubmitEventRejectsMissingFields(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPost, "/events", map[string]any{
		"type": "donation.created",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDecisionNotFound(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodGet, "/decisions/missing", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordOutcomeOnceOnly(t *testing.T) {
	fixture := setupTestApp(t)
	fixture.seedWorkflowAndTrigger(t)

	resp := fixture.request(t, http.MethodPost, "/events", map[string]any{
		"type":         "donation.created",
		"recipient_id": "r-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var decision models.Decision
	decodeBody(t, resp, &decision)

	outcome := map[string]any{"reward": 1.0, "converted": true}

	resp = fixture.request(t, http.MethodPost, "/decisions/"+decision.ID+"/outcome", outcome)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Decision
	decodeBody(t, resp, &updated)
	require.NotNil(t, updated.Outcome)
	assert.True(t, updated.Outcome.Converted)

	// The second report conflicts; decisions are immutable after the first.
	resp = fixture.request(t, http.MethodPost, "/decisions/"+decision.ID+"/outcome", outcome)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSingleSendRecordsOneContact(t *testing.T) {
	fixture := setupTestApp(t)
	fixture.seedWorkflowAndTrigger(t)
	ctx := context.Background()

	resp := fixture.request(t, http.MethodPost, "/events", map[string]any{
		"type":         "donation.created",
		"recipient_id": "r-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, err := fixture.engine.ProcessDue(ctx, 10)
	require.NoError(t, err)

	// One go verdict followed by one dispatch is one contact, not two;
	// only the send touches the fatigue counters.
	fatigue, err := fixture.ledger.Fatigue(ctx, "r-1", models.ChannelEmail, fixture.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), fatigue.ContactsDay)
}

func TestRecordStepOutcomeRewardsVariant(t *testing.T) {
	fixture := setupTestApp(t)
	ctx := context.Background()

	workflow := &models.Workflow{
		ID:     "wf-ask",
		Name:   "Donation ask",
		Status: models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				ID: "ask", Name: "Ask", Kind: models.StepMessage,
				Channel: models.ChannelEmail, TemplateID: "tpl-ask",
				DecisionPointID: "dp-ask",
			},
		},
	}
	require.NoError(t, fixture.persist.SaveWorkflow(ctx, workflow))
	require.NoError(t, fixture.persist.SaveVariant(ctx, models.NewVariant("v-1", "dp-ask", "Control")))

	resp := fixture.request(t, http.MethodPost, "/enrollments", map[string]any{
		"workflow_id":  "wf-ask",
		"recipient_id": "r-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var enrollment models.Enrollment
	decodeBody(t, resp, &enrollment)

	_, err := fixture.engine.ProcessDue(ctx, 10)
	require.NoError(t, err)

	outcome := map[string]any{"reward": 1.0, "converted": true}

	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/steps/0/outcome", outcome)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The reward reaches the arm the step selected.
	variant, err := fixture.persist.VariantByID(ctx, "v-1")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, variant.Alpha, 1e-9)
	assert.Equal(t, int64(1), variant.Pulls)

	// A second report conflicts, like decision outcomes.
	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/steps/0/outcome", outcome)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRecordStepOutcomeUnknownStep(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPost, "/enrollments/e-missing/steps/0/outcome",
		map[string]any{"reward": 1.0})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAndDeactivateTrigger(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPost, "/triggers", map[string]any{
		"name":      "Petition follow-up",
		"condition": map[string]any{"field": "type", "op": "eq", "value": "petition.signed"},
		"plan":      map[string]any{"workflow_id": "wf-petition", "channel": "sms"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var trigger models.Trigger
	decodeBody(t, resp, &trigger)
	assert.NotEmpty(t, trigger.ID)
	assert.True(t, trigger.Active)

	resp = fixture.request(t, http.MethodDelete, "/triggers/"+trigger.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = fixture.request(t, http.MethodGet, "/triggers/"+trigger.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var kept models.Trigger
	decodeBody(t, resp, &kept)
	assert.False(t, kept.Active)
}

func TestCreateTriggerRejectsBadCondition(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPost, "/triggers", map[string]any{
		"name":      "Broken trigger",
		"condition": map[string]any{"field": "amount", "op": "between"},
		"plan":      map[string]any{"workflow_id": "wf-1", "channel": "sms"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnrollmentLifecycleOverHTTP(t *testing.T) {
	fixture := setupTestApp(t)
	fixture.seedWorkflowAndTrigger(t)

	resp := fixture.request(t, http.MethodPost, "/enrollments", map[string]any{
		"workflow_id":  "wf-thanks",
		"recipient_id": "r-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var enrollment models.Enrollment
	decodeBody(t, resp, &enrollment)

	// A second enroll is idempotent and reports 200 instead of 201.
	resp = fixture.request(t, http.MethodPost, "/enrollments", map[string]any{
		"workflow_id":  "wf-thanks",
		"recipient_id": "r-1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Resuming an already-active run conflicts.
	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = fixture.request(t, http.MethodPost, "/enrollments/"+enrollment.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fixture.request(t, http.MethodGet, "/enrollments/"+enrollment.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Enrollment models.Enrollment      `json:"enrollment"`
		Executions []models.StepExecution `json:"executions"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, models.EnrollmentStopped, body.Enrollment.Status)
}

func TestEnrollRejectsUnknownWorkflow(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPost, "/enrollments", map[string]any{
		"workflow_id":  "wf-missing",
		"recipient_id": "r-1",
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControlRoundTripOverHTTP(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPut, "/control/workflow:wf-thanks", map[string]any{
		"mode":  "off",
		"actor": "field-director",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fixture.request(t, http.MethodGet, "/control/workflow:wf-thanks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "off", body["effective_mode"])

	resp = fixture.request(t, http.MethodGet, "/control/workflow:wf-thanks/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history map[string]any
	decodeBody(t, resp, &history)
	assert.Equal(t, float64(1), history["count"])
}

func TestSetControlPublishesBothSidesOfTransition(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPut, "/control/workflow:wf-1", map[string]any{
		"mode":  "off",
		"actor": "field-director",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fixture.request(t, http.MethodPut, "/control/workflow:wf-1", map[string]any{
		"mode":  "on",
		"actor": "field-director",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, fixture.bus.events, 2)

	first, ok := fixture.bus.events[0].(events.ControlChanged)
	require.True(t, ok)
	assert.Equal(t, models.ModeOn, first.FromMode)
	assert.Equal(t, models.ModeOff, first.ToMode)

	second, ok := fixture.bus.events[1].(events.ControlChanged)
	require.True(t, ok)
	assert.Equal(t, models.ModeOff, second.FromMode)
	assert.Equal(t, models.ModeOn, second.ToMode)
}

func TestControlDefaultsToOn(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodGet, "/control/workflow:unseen", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "on", body["effective_mode"])
	assert.Nil(t, body["state"])
}

func TestSetControlRejectsBadMode(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPut, "/control/workflow:wf-1", map[string]any{
		"mode":  "maybe",
		"actor": "op",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetControlTimerRequiresDuration(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodPut, "/control/workflow:wf-1", map[string]any{
		"mode":  "timer",
		"actor": "op",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBudgetRequiresChannel(t *testing.T) {
	fixture := setupTestApp(t)

	resp := fixture.request(t, http.MethodGet, "/budgets/workflow:wf-1", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBudgetReportsAllotments(t *testing.T) {
	fixture := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, fixture.ledger.SetAllotment(ctx, "workflow:wf-1", models.ChannelSMS, models.PeriodDay, 500))
	require.NoError(t, fixture.ledger.RecordSpend(ctx, "workflow:wf-1", models.ChannelSMS, 100, fixture.clock.Now()))

	resp := fixture.request(t, http.MethodGet, "/budgets/workflow:wf-1?channel=sms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Budgets []models.BudgetRecord `json:"budgets"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Budgets, 1)
	assert.Equal(t, int64(500), body.Budgets[0].Allotted)
	assert.Equal(t, int64(100), body.Budgets[0].Spent)
}
