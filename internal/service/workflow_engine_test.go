package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── Test doubles ─────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu            sync.Mutex
	approverCalls []string // step ids notified
	requestorCall int
}

func (f *fakeNotifier) NotifyApprover(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approverCalls = append(f.approverCalls, step.ID)
	return nil
}

func (f *fakeNotifier) NotifyRequestor(ctx context.Context, wf *repository.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestorCall++
	return nil
}

func (f *fakeNotifier) notifiedSteps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.approverCalls...)
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string // workflow ids
}

func (f *fakeExecutor) ExecuteApprovedAction(ctx context.Context, wf *repository.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, wf.ID)
	return nil
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type staticIdentity struct {
	roles map[string][]string
}

func (s *staticIdentity) GetUserRoles(ctx context.Context, companyID, userID string) ([]string, error) {
	return s.roles[userID], nil
}

type engineFixture struct {
	engine   *WorkflowEngine
	store    *repository.MemoryWorkflowStore
	audit    *repository.MemoryAuditStore
	notifier *fakeNotifier
	executor *fakeExecutor
	effects  *EffectDispatcher
}

func newEngineFixture(t *testing.T, identity IdentityClientInterface) *engineFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", ServiceName: "test"})
	reg, err := NewTemplateRegistry(DefaultCatalog())
	require.NoError(t, err)

	f := &engineFixture{
		store:    repository.NewMemoryWorkflowStore(),
		audit:    repository.NewMemoryAuditStore(),
		notifier: &fakeNotifier{},
		executor: &fakeExecutor{},
		effects:  NewEffectDispatcher(log),
	}
	f.engine = NewWorkflowEngine(f.store, f.audit, reg, f.notifier, f.executor, identity, f.effects, log)
	t.Cleanup(f.effects.Close)
	return f
}

// drain flushes queued side effects so assertions on notifier/executor are
// deterministic.
func (f *engineFixture) drain() {
	f.effects.Close()
}

func paymentRequest() *CreateWorkflowRequest {
	return &CreateWorkflowRequest{
		EntityType: repository.EntityPayment,
		EntityID:   "payment-42",
		CompanyID:  "co-1",
		CreatedBy:  "requestor-1",
		Steps: []TemplateStep{
			{StepNumber: 1, Name: "Accounting check", ApproverRoles: []string{"accountant"}, Required: true},
			{StepNumber: 2, Name: "Financial manager release", ApproverRoles: []string{"financial_manager"}, Required: true},
		},
	}
}

// ── Creation ─────────────────────────────────────────────────────────────────

func TestCreateWorkflowShape(t *testing.T) {
	f := newEngineFixture(t, nil)

	wf, err := f.engine.CreateWorkflow(context.Background(), paymentRequest())
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowPending, wf.Status)
	assert.Equal(t, 0, wf.CurrentStep)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, wf.ID+"-step-1", wf.Steps[0].ID)
	assert.Equal(t, wf.ID+"-step-2", wf.Steps[1].ID)
	for _, step := range wf.Steps {
		assert.Equal(t, repository.StepPending, step.Status)
	}
	assert.Nil(t, wf.CompletedAt)

	f.drain()
	assert.Equal(t, []string{wf.ID + "-step-1"}, f.notifier.notifiedSteps())
}

func TestCreateWorkflowFromTemplate(t *testing.T) {
	f := newEngineFixture(t, nil)

	wf, err := f.engine.CreateWorkflow(context.Background(), &CreateWorkflowRequest{
		TemplateID: "payment-large",
		EntityType: repository.EntityPayment,
		EntityID:   "payment-9",
		CompanyID:  "co-1",
		CreatedBy:  "requestor-1",
	})
	require.NoError(t, err)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, []string{"accountant"}, wf.Steps[0].ApproverRoles)
}

func TestCreateWorkflowValidation(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: "spaceship", EntityID: "x", CompanyID: "co-1", CreatedBy: "u",
		Steps: []TemplateStep{{StepNumber: 1, Name: "a", ApproverRoles: []string{"r"}}},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	req := paymentRequest()
	req.EntityID = ""
	_, err = f.engine.CreateWorkflow(ctx, req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	req = paymentRequest()
	req.CompanyID = ""
	_, err = f.engine.CreateWorkflow(ctx, req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	req = paymentRequest()
	req.Steps = nil
	_, err = f.engine.CreateWorkflow(ctx, req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

// ── Approve ──────────────────────────────────────────────────────────────────

func TestSingleStepWorkflowCompletesOnOneApproval(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: repository.EntityExpense,
		EntityID:   "exp-1",
		CompanyID:  "co-1",
		CreatedBy:  "requestor-1",
		Steps:      []TemplateStep{{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}, Required: true}},
	})
	require.NoError(t, err)

	got, err := f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "mgr-1", Roles: []string{"manager"},
	})
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowApproved, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, repository.StepApproved, got.Steps[0].Status)
	require.NotNil(t, got.Steps[0].ApprovedBy)
	assert.Equal(t, "mgr-1", *got.Steps[0].ApprovedBy)

	f.drain()
	assert.Equal(t, []string{wf.ID}, f.executor.executed())
	assert.Equal(t, 1, f.notifier.requestorCall)
}

func TestTwoStepPaymentEndToEnd(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	reg, err := NewTemplateRegistry(DefaultCatalog())
	require.NoError(t, err)
	eval := NewFirstMatchEvaluator(reg)

	dec := eval.IsWorkflowRequired(repository.EntityPayment, amount(15_000_00), nil)
	require.True(t, dec.Required)
	require.Equal(t, "payment-large", dec.Template.ID)

	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		TemplateID: dec.Template.ID,
		EntityType: repository.EntityPayment,
		EntityID:   "payment-15k",
		CompanyID:  "co-1",
		CreatedBy:  "requestor-1",
	})
	require.NoError(t, err)

	got, err := f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "acct-1", Roles: []string{"accountant"},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowInProgress, got.Status)
	assert.Equal(t, 1, got.CurrentStep)

	got, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "fm-1", Roles: []string{"financial_manager"},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, got.Status)
	assert.NotNil(t, got.CompletedAt)

	f.drain()
	assert.Equal(t, []string{wf.ID}, f.executor.executed())
}

func TestApproveUnknownWorkflow(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.Approve(context.Background(), &ApprovalAction{
		WorkflowID: "missing", UserID: "u", Roles: []string{"manager"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestApproveTerminalWorkflow(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: repository.EntityExpense, EntityID: "exp-1", CompanyID: "co-1", CreatedBy: "r",
		Steps: []TemplateStep{{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}}},
	})
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "m", Roles: []string{"manager"}})
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "m", Roles: []string{"manager"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestApproveWrongRole(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "intern", Roles: []string{"intern"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	// No state change behind the guard failure.
	got, err := f.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowPending, got.Status)
	assert.Equal(t, repository.StepPending, got.Steps[0].Status)
}

func TestExplicitAssigneeBeatsMatchingRole(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	assignee := "cfo-1"
	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: repository.EntityTransfer, EntityID: "tr-1", CompanyID: "co-1", CreatedBy: "r",
		Steps: []TemplateStep{{
			StepNumber: 1, Name: "CFO release",
			ApproverRoles:  []string{"cfo"},
			ApproverUserID: &assignee,
			Required:       true,
		}},
	})
	require.NoError(t, err)

	// Matching role but wrong user is denied.
	_, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "cfo-2", Roles: []string{"cfo"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	// The assigned user succeeds even without supplying roles.
	got, err := f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: assignee})
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, got.Status)
}

func TestApproveStalePinnedStep(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, StepNumber: 1, UserID: "acct-1", Roles: []string{"accountant"},
	})
	require.NoError(t, err)

	// A second actor still pointing at step 1 lost the race.
	_, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, StepNumber: 1, UserID: "acct-2", Roles: []string{"accountant"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestConcurrentApprovesExactlyOneWins(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Approve(ctx, &ApprovalAction{
				WorkflowID: wf.ID,
				StepNumber: 1,
				UserID:     "acct-1",
				Roles:      []string{"accountant"},
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		}
	}
	assert.Equal(t, 1, wins)

	got, err := f.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StepApproved, got.Steps[0].Status)
	require.NotNil(t, got.Steps[0].ApprovedBy)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, repository.WorkflowInProgress, got.Status)
}

// ── Reject ───────────────────────────────────────────────────────────────────

func TestRejectShortCircuitsWholeWorkflow(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: repository.EntityContract, EntityID: "c-1", CompanyID: "co-1", CreatedBy: "r",
		Steps: []TemplateStep{
			{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}, Required: true},
			{StepNumber: 2, Name: "Legal", ApproverRoles: []string{"legal"}, Required: true},
			{StepNumber: 3, Name: "Director", ApproverRoles: []string{"director"}, Required: true},
		},
	})
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "m", Roles: []string{"manager"}})
	require.NoError(t, err)

	got, err := f.engine.Reject(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "lawyer", Roles: []string{"legal"}, Reason: "clause 4 unacceptable",
	})
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowRejected, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, repository.StepApproved, got.Steps[0].Status)
	assert.Equal(t, repository.StepRejected, got.Steps[1].Status)
	require.NotNil(t, got.Steps[1].Comments)
	assert.Equal(t, "clause 4 unacceptable", *got.Steps[1].Comments)
	// Short-circuit: the later step is never touched.
	assert.Equal(t, repository.StepPending, got.Steps[2].Status)

	f.drain()
	// Approver notifications: step 1 at creation, step 2 after first
	// approval; never step 3.
	assert.Equal(t, []string{wf.ID + "-step-1", wf.ID + "-step-2"}, f.notifier.notifiedSteps())
	assert.Empty(t, f.executor.executed())
	assert.Equal(t, 1, f.notifier.requestorCall)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	_, err = f.engine.Reject(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "acct-1", Roles: []string{"accountant"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

// ── Cancel ───────────────────────────────────────────────────────────────────

func TestCancelByCreator(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	got, err := f.engine.Cancel(ctx, wf.ID, "requestor-1", "duplicate request")
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Steps[0].Comments)
	assert.Equal(t, "cancelled: duplicate request", *got.Steps[0].Comments)
}

func TestCancelByNonCreatorDenied(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, wf.ID, "someone-else", "nope")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))
}

func TestCancelTerminalWorkflowFailsAndLeavesStateUntouched(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "acct-1", Roles: []string{"accountant"}, Reason: "bad invoice",
	})
	require.NoError(t, err)

	before, err := f.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, wf.ID, "requestor-1", "too late")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	after, err := f.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// ── Reads ────────────────────────────────────────────────────────────────────

func TestGetPendingApprovalsForUser(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	first, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	second := paymentRequest()
	second.EntityID = "payment-43"
	_, err = f.engine.CreateWorkflow(ctx, second)
	require.NoError(t, err)

	// Both current steps want an accountant.
	pending, err := f.engine.GetPendingApprovalsForUser(ctx, "acct-1", []string{"accountant"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// A financial manager has nothing yet.
	pending, err = f.engine.GetPendingApprovalsForUser(ctx, "fm-1", []string{"financial_manager"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	// After the first approval, the first workflow moves to the manager.
	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: first.ID, UserID: "acct-1", Roles: []string{"accountant"}})
	require.NoError(t, err)

	pending, err = f.engine.GetPendingApprovalsForUser(ctx, "fm-1", []string{"financial_manager"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestRequiredFlagDoesNotSkipSteps(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	// An optional step still has to be decided explicitly.
	wf, err := f.engine.CreateWorkflow(ctx, &CreateWorkflowRequest{
		EntityType: repository.EntityExpense, EntityID: "exp-2", CompanyID: "co-1", CreatedBy: "r",
		Steps: []TemplateStep{
			{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}, Required: true},
			{StepNumber: 2, Name: "Optional audit", ApproverRoles: []string{"auditor"}, Required: false},
		},
	})
	require.NoError(t, err)

	got, err := f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "m", Roles: []string{"manager"}})
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowInProgress, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "acct-1", Roles: []string{"accountant"}})
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "fm-1", Roles: []string{"financial_manager"}, Reason: "over budget",
	})
	require.NoError(t, err)

	trail, err := f.engine.GetAuditTrail(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, repository.AuditSubmitted, trail[0].Action)
	assert.Equal(t, repository.AuditApproved, trail[1].Action)
	assert.Equal(t, repository.AuditRejected, trail[2].Action)
	assert.Equal(t, repository.WorkflowRejected, trail[2].StatusAfter)
}

// ── Identity hardening ───────────────────────────────────────────────────────

func TestIdentityResolvedRolesOverrideCallerSupplied(t *testing.T) {
	identity := &staticIdentity{roles: map[string][]string{
		"acct-1":  {"accountant"},
		"revoked": {}, // role was revoked server-side
	}}
	f := newEngineFixture(t, identity)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(ctx, paymentRequest())
	require.NoError(t, err)

	// Caller claims the role but identity says it was revoked.
	_, err = f.engine.Approve(ctx, &ApprovalAction{
		WorkflowID: wf.ID, UserID: "revoked", Roles: []string{"accountant"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	// Resolved roles suffice even when the caller supplies none.
	_, err = f.engine.Approve(ctx, &ApprovalAction{WorkflowID: wf.ID, UserID: "acct-1"})
	require.NoError(t, err)
}
