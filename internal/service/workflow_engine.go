package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Notifier delivers approval notifications. Implementations must treat
// delivery as their own responsibility; errors returned here only drive the
// dispatcher's retries and never reach the state machine.
type Notifier interface {
	NotifyApprover(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) error
	NotifyRequestor(ctx context.Context, wf *repository.Workflow) error
}

// ActionExecutor performs the gated business action once a workflow reaches
// approved. Delivery is at-least-once, so implementations must be idempotent
// per workflow id.
type ActionExecutor interface {
	ExecuteApprovedAction(ctx context.Context, wf *repository.Workflow) error
}

// IdentityClientInterface re-resolves a caller's roles from the identity
// service at decision time, closing the gap between token issuance and role
// revocation.
type IdentityClientInterface interface {
	GetUserRoles(ctx context.Context, companyID, userID string) ([]string, error)
}

// CreateWorkflowRequest describes a workflow to create. Steps may be given
// explicitly or resolved from TemplateID; explicit steps win when both are
// present.
type CreateWorkflowRequest struct {
	TemplateID string                `json:"template_id,omitempty"`
	EntityType repository.EntityType `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
	CompanyID  string                `json:"company_id"`
	CreatedBy  string                `json:"created_by"`
	Steps      []TemplateStep        `json:"steps,omitempty"`
}

// ApprovalAction is the transient input for approve and reject. StepNumber
// pins the step the approver saw; zero means "the current step". Pinning is
// what lets a lost race surface as a conflict instead of silently acting on
// the next step.
type ApprovalAction struct {
	WorkflowID string   `json:"workflow_id"`
	StepNumber int      `json:"step_number,omitempty"`
	UserID     string   `json:"user_id"`
	Roles      []string `json:"roles,omitempty"`
	Comments   *string  `json:"comments,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// WorkflowEngine owns the approval state machine: it creates workflow
// instances from templates, validates and applies approve/reject/cancel, and
// triggers collaborators strictly after a transition is committed. The engine
// is stateless apart from the injected store; all collaborators are injected.
type WorkflowEngine struct {
	store    repository.WorkflowStore
	audit    repository.AuditStore
	registry *TemplateRegistry
	notifier Notifier
	executor ActionExecutor
	identity IdentityClientInterface // optional; enables role re-resolution
	effects  *EffectDispatcher
	log      *logger.Logger

	// locks serializes mutations per workflow id within this process; the
	// store's version check covers races across processes.
	locks sync.Map
}

// NewWorkflowEngine creates the engine with its collaborators.
func NewWorkflowEngine(
	store repository.WorkflowStore,
	audit repository.AuditStore,
	registry *TemplateRegistry,
	notifier Notifier,
	executor ActionExecutor,
	identity IdentityClientInterface,
	effects *EffectDispatcher,
	log *logger.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		store:    store,
		audit:    audit,
		registry: registry,
		notifier: notifier,
		executor: executor,
		identity: identity,
		effects:  effects,
		log:      log,
	}
}

func (e *WorkflowEngine) lockFor(workflowID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(workflowID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ── Creation ─────────────────────────────────────────────────────────────────

// CreateWorkflow validates the request, instantiates steps, persists the new
// workflow in pending state and schedules notification of the first approver.
func (e *WorkflowEngine) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*repository.Workflow, error) {
	if !repository.ValidEntityType(req.EntityType) {
		return nil, errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type '%s'", req.EntityType))
	}
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}
	if req.CompanyID == "" {
		return nil, errors.InvalidInput("company_id", "company id is required")
	}

	stepDefs := req.Steps
	if len(stepDefs) == 0 && req.TemplateID != "" {
		tpl := e.registry.GetTemplateByID(req.TemplateID)
		if tpl == nil {
			return nil, errors.NotFound("workflow_template", req.TemplateID)
		}
		if tpl.EntityType != req.EntityType {
			return nil, errors.InvalidInput("template_id",
				fmt.Sprintf("template '%s' is for entity type '%s'", tpl.ID, tpl.EntityType))
		}
		stepDefs = tpl.Steps
	}
	if len(stepDefs) == 0 {
		return nil, errors.InvalidInput("steps", "at least one approval step is required")
	}

	now := time.Now().UTC()
	wf := &repository.Workflow{
		ID:          uuid.NewString(),
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		CompanyID:   req.CompanyID,
		CurrentStep: 0,
		Status:      repository.WorkflowPending,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, def := range stepDefs {
		wf.Steps = append(wf.Steps, &repository.WorkflowStep{
			ID:             repository.StepID(wf.ID, i+1),
			StepNumber:     i + 1,
			Name:           def.Name,
			ApproverRoles:  append([]string(nil), def.ApproverRoles...),
			ApproverUserID: def.ApproverUserID,
			Status:         repository.StepPending,
			Required:       def.Required,
		})
	}

	if err := e.store.Save(ctx, wf); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to persist workflow")
	}

	e.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:   wf.ID,
		CompanyID:    wf.CompanyID,
		Action:       repository.AuditSubmitted,
		PerformedBy:  req.CreatedBy,
		StatusBefore: repository.WorkflowPending,
		StatusAfter:  repository.WorkflowPending,
		Metadata: map[string]any{
			"entity_type": wf.EntityType,
			"entity_id":   wf.EntityID,
			"total_steps": len(wf.Steps),
		},
	})
	e.notifyApprover(wf)

	e.log.Info().
		Str("workflow_id", wf.ID).
		Str("entity_type", string(wf.EntityType)).
		Str("entity_id", wf.EntityID).
		Str("company_id", wf.CompanyID).
		Int("total_steps", len(wf.Steps)).
		Msg("Approval workflow created")

	return wf.Clone(), nil
}

// ── Approve ──────────────────────────────────────────────────────────────────

// Approve records approval of the workflow's current step and either
// advances to the next step or completes the workflow. On completion the
// approved business action is executed exactly once per transition.
func (e *WorkflowEngine) Approve(ctx context.Context, action *ApprovalAction) (*repository.Workflow, error) {
	mu := e.lockFor(action.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	wf, step, err := e.currentStepForAction(ctx, action)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	statusBefore := wf.Status
	step.Status = repository.StepApproved
	step.ApprovedBy = &action.UserID
	step.ApprovedAt = &now
	step.Comments = action.Comments

	completed := wf.CurrentStep == len(wf.Steps)-1
	if completed {
		wf.Status = repository.WorkflowApproved
		wf.CompletedAt = &now
	} else {
		wf.CurrentStep++
		wf.Status = repository.WorkflowInProgress
	}
	wf.UpdatedAt = now

	if err := e.commit(ctx, wf); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:   wf.ID,
		CompanyID:    wf.CompanyID,
		Action:       repository.AuditApproved,
		PerformedBy:  action.UserID,
		StatusBefore: statusBefore,
		StatusAfter:  wf.Status,
		Metadata:     map[string]any{"step_number": step.StepNumber},
	})

	if completed {
		e.executeApprovedAction(wf)
		e.notifyRequestor(wf)
	} else {
		e.notifyApprover(wf)
	}

	e.log.Info().
		Str("workflow_id", wf.ID).
		Int("step_number", step.StepNumber).
		Str("approved_by", action.UserID).
		Bool("completed", completed).
		Msg("Approval step approved")

	return wf.Clone(), nil
}

// ── Reject ───────────────────────────────────────────────────────────────────

// Reject records rejection of the current step and immediately terminates the
// whole workflow. Later steps are never evaluated or notified.
func (e *WorkflowEngine) Reject(ctx context.Context, action *ApprovalAction) (*repository.Workflow, error) {
	if action.Reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	mu := e.lockFor(action.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	wf, step, err := e.currentStepForAction(ctx, action)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	statusBefore := wf.Status
	step.Status = repository.StepRejected
	step.Comments = &action.Reason
	step.ApprovedBy = &action.UserID
	step.ApprovedAt = &now

	wf.Status = repository.WorkflowRejected
	wf.CompletedAt = &now
	wf.UpdatedAt = now

	if err := e.commit(ctx, wf); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:   wf.ID,
		CompanyID:    wf.CompanyID,
		Action:       repository.AuditRejected,
		PerformedBy:  action.UserID,
		StatusBefore: statusBefore,
		StatusAfter:  repository.WorkflowRejected,
		Metadata:     map[string]any{"step_number": step.StepNumber, "reason": action.Reason},
	})
	e.notifyRequestor(wf)

	e.log.Info().
		Str("workflow_id", wf.ID).
		Int("step_number", step.StepNumber).
		Str("rejected_by", action.UserID).
		Msg("Approval workflow rejected")

	return wf.Clone(), nil
}

// ── Cancel ───────────────────────────────────────────────────────────────────

// Cancel lets the workflow's creator withdraw a non-terminal workflow. The
// cancellation reason is annotated on the step that was awaiting decision.
func (e *WorkflowEngine) Cancel(ctx context.Context, workflowID, userID, reason string) (*repository.Workflow, error) {
	mu := e.lockFor(workflowID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("workflow is already %s", wf.Status))
	}
	if wf.CreatedBy != userID {
		return nil, errors.Unauthorized("only the workflow creator can cancel it")
	}

	now := time.Now().UTC()
	statusBefore := wf.Status
	if step := wf.Current(); step != nil && reason != "" {
		annotated := fmt.Sprintf("cancelled: %s", reason)
		step.Comments = &annotated
	}
	wf.Status = repository.WorkflowCancelled
	wf.CompletedAt = &now
	wf.UpdatedAt = now

	if err := e.commit(ctx, wf); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:   wf.ID,
		CompanyID:    wf.CompanyID,
		Action:       repository.AuditCancelled,
		PerformedBy:  userID,
		StatusBefore: statusBefore,
		StatusAfter:  repository.WorkflowCancelled,
		Metadata:     map[string]any{"reason": reason},
	})

	e.log.Info().
		Str("workflow_id", wf.ID).
		Str("cancelled_by", userID).
		Msg("Approval workflow cancelled")

	return wf.Clone(), nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

// GetWorkflow returns a copy of the workflow.
func (e *WorkflowEngine) GetWorkflow(ctx context.Context, id string) (*repository.Workflow, error) {
	return e.load(ctx, id)
}

// GetWorkflowsByCompany returns all workflows for a company, newest first.
func (e *WorkflowEngine) GetWorkflowsByCompany(ctx context.Context, companyID string) ([]*repository.Workflow, error) {
	return e.store.ListByCompany(ctx, companyID)
}

// GetPendingApprovalsForUser returns every non-terminal workflow whose
// current step is addressed to the user, either by explicit assignment or by
// role intersection.
func (e *WorkflowEngine) GetPendingApprovalsForUser(ctx context.Context, userID string, roles []string) ([]*repository.Workflow, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var out []*repository.Workflow
	for _, wf := range pending {
		step := wf.Current()
		if step == nil {
			continue
		}
		if verifyApprover(step, userID, roles) == nil {
			out = append(out, wf)
		}
	}
	return out, nil
}

// GetAuditTrail returns the audit log for a workflow, oldest first.
func (e *WorkflowEngine) GetAuditTrail(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error) {
	return e.audit.ListByWorkflow(ctx, workflowID)
}

// ── Authorization guard ──────────────────────────────────────────────────────

// verifyApprover is the single predicate gating approve and reject. An
// explicit user assignment always wins over role matching; with neither an
// explicit user nor a matching role, the action is denied. It must run
// strictly before any mutation.
func verifyApprover(step *repository.WorkflowStep, userID string, roles []string) error {
	if step.ApproverUserID != nil {
		if *step.ApproverUserID == userID {
			return nil
		}
		return errors.Unauthorized("step is assigned to a different user")
	}
	if rolesIntersect(roles, step.ApproverRoles) {
		return nil
	}
	return errors.Unauthorized("user does not hold an approver role for this step")
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// currentStepForAction loads the workflow and validates every approve/reject
// precondition: existence, non-terminal status, step pinning, and
// authorization. Returns the mutable workflow and its current step.
func (e *WorkflowEngine) currentStepForAction(ctx context.Context, action *ApprovalAction) (*repository.Workflow, *repository.WorkflowStep, error) {
	wf, err := e.load(ctx, action.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf.Status.Terminal() {
		return nil, nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("workflow is already %s", wf.Status))
	}

	step := wf.Current()
	if step == nil {
		return nil, nil, errors.New(errors.ErrCodeConflict, "workflow has no undecided step")
	}
	if action.StepNumber != 0 && action.StepNumber != step.StepNumber {
		return nil, nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("step %d is no longer the current step (current: %d)", action.StepNumber, step.StepNumber))
	}

	if err := verifyApprover(step, action.UserID, e.resolveRoles(ctx, wf.CompanyID, action)); err != nil {
		return nil, nil, err
	}
	return wf, step, nil
}

// resolveRoles prefers roles freshly resolved from the identity service over
// the caller-supplied list, so a revoked role cannot be replayed from a stale
// token.
func (e *WorkflowEngine) resolveRoles(ctx context.Context, companyID string, action *ApprovalAction) []string {
	if e.identity == nil {
		return action.Roles
	}
	roles, err := e.identity.GetUserRoles(ctx, companyID, action.UserID)
	if err != nil {
		e.log.Warn().Err(err).
			Str("user_id", action.UserID).
			Msg("Could not re-resolve roles from identity service; using caller-supplied roles")
		return action.Roles
	}
	return roles
}

func (e *WorkflowEngine) load(ctx context.Context, id string) (*repository.Workflow, error) {
	wf, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load workflow")
	}
	if wf == nil {
		return nil, errors.NotFound("workflow", id)
	}
	return wf, nil
}

// commit saves the mutated workflow, translating a lost optimistic-versioning
// race into a conflict for the caller.
func (e *WorkflowEngine) commit(ctx context.Context, wf *repository.Workflow) error {
	err := e.store.Save(ctx, wf)
	if err == nil {
		return nil
	}
	if err == repository.ErrVersionConflict {
		return errors.New(errors.ErrCodeConflict, "workflow was modified concurrently; re-read and retry")
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to persist workflow")
}

// appendAudit writes an audit entry and logs a warning on failure; the audit
// log never blocks or fails an approval operation.
func (e *WorkflowEngine) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.log.Warn().Err(err).
			Str("workflow_id", entry.WorkflowID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// notifyApprover schedules notification of the workflow's current approver.
func (e *WorkflowEngine) notifyApprover(wf *repository.Workflow) {
	if e.notifier == nil || e.effects == nil {
		return
	}
	step := wf.Current()
	if step == nil {
		return
	}
	snapshot, stepCopy := wf.Clone(), step.Clone()
	e.effects.Enqueue("notify_approver", func(ctx context.Context) error {
		return e.notifier.NotifyApprover(ctx, snapshot, stepCopy)
	})
}

// notifyRequestor schedules notification of the workflow creator about a
// terminal outcome.
func (e *WorkflowEngine) notifyRequestor(wf *repository.Workflow) {
	if e.notifier == nil || e.effects == nil {
		return
	}
	snapshot := wf.Clone()
	e.effects.Enqueue("notify_requestor", func(ctx context.Context) error {
		return e.notifier.NotifyRequestor(ctx, snapshot)
	})
}

// executeApprovedAction schedules the gated business action after the
// workflow reached approved. At-least-once: the executor must be idempotent.
func (e *WorkflowEngine) executeApprovedAction(wf *repository.Workflow) {
	if e.executor == nil || e.effects == nil {
		return
	}
	snapshot := wf.Clone()
	e.effects.Enqueue("execute_approved_action", func(ctx context.Context) error {
		return e.executor.ExecuteApprovedAction(ctx, snapshot)
	})
}
