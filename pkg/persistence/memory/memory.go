// Package memory provides an in-memory persistence implementation used by
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/groundgame/groundgame/pkg/models"
	"github.com/groundgame/groundgame/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
type Persistence struct {
	mu sync.RWMutex

	triggers       map[string]*models.Trigger
	decisions      map[string]*models.Decision
	decisionOrder  []string
	workflows      map[string]*models.Workflow
	enrollments    map[string]*models.Enrollment
	stepExecutions map[string]*models.StepExecution // by idempotency key + attempt
	executionOrder []string
	controlStates  map[string]*models.ControlState
	controlHistory map[string][]*models.ControlHistoryEntry
	variants       map[string]*models.Variant
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		triggers:       make(map[string]*models.Trigger),
		decisions:      make(map[string]*models.Decision),
		workflows:      make(map[string]*models.Workflow),
		enrollments:    make(map[string]*models.Enrollment),
		stepExecutions: make(map[string]*models.StepExecution),
		controlStates:  make(map[string]*models.ControlState),
		controlHistory: make(map[string][]*models.ControlHistoryEntry),
		variants:       make(map[string]*models.Variant),
	}
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository       { return p }
func (p *Persistence) DecisionRepository() persistence.DecisionRepository     { return p }
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository     { return p }
func (p *Persistence) EnrollmentRepository() persistence.EnrollmentRepository { return p }
func (p *Persistence) ControlRepository() persistence.ControlRepository       { return p }
func (p *Persistence) VariantRepository() persistence.VariantRepository       { return p }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// Triggers

func (p *Persistence) Triggers(_ context.Context) ([]*models.Trigger, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Trigger, 0, len(p.triggers))
	for _, trigger := range p.triggers {
		copied := *trigger
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) ActiveTriggers(ctx context.Context) ([]*models.Trigger, error) {
	all, err := p.Triggers(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Trigger, 0, len(all))
	for _, trigger := range all {
		if trigger.Active {
			active = append(active, trigger)
		}
	}

	return active, nil
}

func (p *Persistence) TriggerByID(_ context.Context, id string) (*models.Trigger, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	trigger, ok := p.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	copied := *trigger

	return &copied, nil
}

func (p *Persistence) SaveTrigger(_ context.Context, trigger *models.Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *trigger
	p.triggers[trigger.ID] = &copied

	return nil
}

func (p *Persistence) DeactivateTrigger(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	trigger, ok := p.triggers[id]
	if !ok {
		return persistence.ErrTriggerNotFound
	}

	trigger.Active = false
	trigger.UpdatedAt = time.Now().UTC()

	return nil
}

// Decisions

func (p *Persistence) SaveDecision(_ context.Context, decision *models.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.decisions[decision.ID]; !exists {
		p.decisionOrder = append(p.decisionOrder, decision.ID)
	}

	copied := *decision
	p.decisions[decision.ID] = &copied

	return nil
}

func (p *Persistence) DecisionByID(_ context.Context, id string) (*models.Decision, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	decision, ok := p.decisions[id]
	if !ok {
		return nil, persistence.ErrDecisionNotFound
	}

	copied := *decision

	return &copied, nil
}

func (p *Persistence) Decisions(_ context.Context, limit int) ([]*models.Decision, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Decision, 0, len(p.decisionOrder))

	// Newest first.
	for i := len(p.decisionOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}

		copied := *p.decisions[p.decisionOrder[i]]
		out = append(out, &copied)
	}

	return out, nil
}

func (p *Persistence) AttachOutcome(_ context.Context, decisionID string, outcome models.DecisionOutcome) (*models.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	decision, ok := p.decisions[decisionID]
	if !ok {
		return nil, persistence.ErrDecisionNotFound
	}

	if !decision.RecordOutcome(outcome) {
		return nil, persistence.ErrOutcomeAlreadyRecorded
	}

	copied := *decision

	return &copied, nil
}

// Workflows

// copyWorkflow clones the definition including its step slice, so callers
// holding a fetched or saved workflow can never mutate the stored one.
func copyWorkflow(workflow *models.Workflow) *models.Workflow {
	copied := *workflow
	copied.Steps = make([]*models.WorkflowStep, len(workflow.Steps))

	for i, step := range workflow.Steps {
		stepCopy := *step
		copied.Steps[i] = &stepCopy
	}

	return &copied
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(p.workflows))
	for _, workflow := range p.workflows {
		out = append(out, copyWorkflow(workflow))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return copyWorkflow(workflow), nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = copyWorkflow(workflow)

	return nil
}

// Enrollments

func (p *Persistence) CreateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[enrollment.WorkflowID]
	reentrant := ok && workflow.AllowReentry

	if !reentrant {
		for _, existing := range p.enrollments {
			if existing.WorkflowID == enrollment.WorkflowID &&
				existing.RecipientID == enrollment.RecipientID &&
				!existing.Status.Terminal() {
				return persistence.ErrDuplicateEnrollment
			}
		}
	}

	copied := *enrollment
	p.enrollments[enrollment.ID] = &copied

	return nil
}

func (p *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	enrollment, ok := p.enrollments[id]
	if !ok {
		return nil, persistence.ErrEnrollmentNotFound
	}

	copied := *enrollment

	return &copied, nil
}

func (p *Persistence) ActiveEnrollment(_ context.Context, workflowID, recipientID string) (*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, enrollment := range p.enrollments {
		if enrollment.WorkflowID == workflowID &&
			enrollment.RecipientID == recipientID &&
			!enrollment.Status.Terminal() {
			copied := *enrollment

			return &copied, nil
		}
	}

	return nil, persistence.ErrEnrollmentNotFound
}

func (p *Persistence) UpdateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.enrollments[enrollment.ID]; !ok {
		return persistence.ErrEnrollmentNotFound
	}

	copied := *enrollment
	p.enrollments[enrollment.ID] = &copied

	return nil
}

func (p *Persistence) DueEnrollments(_ context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Enrollment, 0)

	for _, enrollment := range p.enrollments {
		if enrollment.Status != models.EnrollmentActive {
			continue
		}

		if enrollment.NextStepAt.After(now) {
			continue
		}

		copied := *enrollment
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].NextStepAt.Before(out[j].NextStepAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (p *Persistence) SuspendedEnrollments(_ context.Context) ([]*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Enrollment, 0)

	for _, enrollment := range p.enrollments {
		if enrollment.Status != models.EnrollmentPaused || enrollment.PauseCause != models.PauseCauseSuspended {
			continue
		}

		copied := *enrollment
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) ClaimEnrollment(_ context.Context, id string, version int64, workerID string, now time.Time) (*models.Enrollment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment, ok := p.enrollments[id]
	if !ok {
		return nil, persistence.ErrEnrollmentNotFound
	}

	if enrollment.Version != version {
		return nil, persistence.ErrEnrollmentClaimConflict
	}

	enrollment.Version++
	enrollment.ClaimedBy = workerID
	claimed := now
	enrollment.ClaimedAt = &claimed

	copied := *enrollment

	return &copied, nil
}

func (p *Persistence) SaveStepExecution(_ context.Context, execution *models.StepExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := execution.ID
	if _, exists := p.stepExecutions[key]; !exists {
		p.executionOrder = append(p.executionOrder, key)
	}

	copied := *execution
	p.stepExecutions[key] = &copied

	return nil
}

func (p *Persistence) StepExecutions(_ context.Context, enrollmentID string) ([]*models.StepExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.StepExecution, 0)

	for _, key := range p.executionOrder {
		execution := p.stepExecutions[key]
		if execution.EnrollmentID == enrollmentID {
			copied := *execution
			out = append(out, &copied)
		}
	}

	return out, nil
}

func (p *Persistence) StepExecutionByKey(_ context.Context, idempotencyKey string) (*models.StepExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Latest attempt wins.
	for i := len(p.executionOrder) - 1; i >= 0; i-- {
		execution := p.stepExecutions[p.executionOrder[i]]
		if execution.IdempotencyKey == idempotencyKey {
			copied := *execution

			return &copied, nil
		}
	}

	return nil, persistence.ErrStepExecutionNotFound
}

// Control plane

func (p *Persistence) ControlState(_ context.Context, scope string) (*models.ControlState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.controlStates[scope]
	if !ok {
		return nil, persistence.ErrControlStateNotFound
	}

	copied := *state

	return &copied, nil
}

func (p *Persistence) ControlStates(_ context.Context) ([]*models.ControlState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ControlState, 0, len(p.controlStates))
	for _, state := range p.controlStates {
		copied := *state
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })

	return out, nil
}

func (p *Persistence) SaveControlState(_ context.Context, state *models.ControlState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *state
	p.controlStates[state.Scope] = &copied

	return nil
}

func (p *Persistence) AppendControlHistory(_ context.Context, entry *models.ControlHistoryEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *entry
	p.controlHistory[entry.Scope] = append(p.controlHistory[entry.Scope], &copied)

	return nil
}

func (p *Persistence) ControlHistory(_ context.Context, scope string) ([]*models.ControlHistoryEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := p.controlHistory[scope]
	out := make([]*models.ControlHistoryEntry, 0, len(entries))

	for _, entry := range entries {
		copied := *entry
		out = append(out, &copied)
	}

	return out, nil
}

// Variants

func (p *Persistence) VariantByID(_ context.Context, id string) (*models.Variant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	variant, ok := p.variants[id]
	if !ok {
		return nil, persistence.ErrVariantNotFound
	}

	copied := *variant

	return &copied, nil
}

func (p *Persistence) ActiveVariants(_ context.Context, decisionPointID string) ([]*models.Variant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Variant, 0)

	for _, variant := range p.variants {
		if variant.DecisionPointID == decisionPointID && variant.Active {
			copied := *variant
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) SaveVariant(_ context.Context, variant *models.Variant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *variant
	p.variants[variant.ID] = &copied

	return nil
}

func (p *Persistence) UpdateVariant(_ context.Context, id string, apply func(*models.Variant)) (*models.Variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	variant, ok := p.variants[id]
	if !ok {
		return nil, persistence.ErrVariantNotFound
	}

	apply(variant)

	copied := *variant

	return &copied, nil
}

func (p *Persistence) DeactivateVariant(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	variant, ok := p.variants[id]
	if !ok {
		return persistence.ErrVariantNotFound
	}

	variant.Active = false
	variant.UpdatedAt = time.Now().UTC()

	return nil
}
