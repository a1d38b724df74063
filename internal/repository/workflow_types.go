package repository

import (
	"fmt"
	"time"
)

// ── Domain types for approval workflows ──────────────────────────────────────

// EntityType is the closed set of business entity kinds that can be gated
// behind an approval workflow.
type EntityType string

const (
	EntityContract      EntityType = "contract"
	EntityPayment       EntityType = "payment"
	EntityInvoice       EntityType = "invoice"
	EntityPurchaseOrder EntityType = "purchase_order"
	EntityExpense       EntityType = "expense"
	EntityTransfer      EntityType = "transfer"
)

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityContract, EntityPayment, EntityInvoice,
		EntityPurchaseOrder, EntityExpense, EntityTransfer:
		return true
	}
	return false
}

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowApproved   WorkflowStatus = "approved"
	WorkflowRejected   WorkflowStatus = "rejected"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// Terminal reports whether no further mutation of the workflow is permitted.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected || s == WorkflowCancelled
}

// StepStatus is the decision state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// WorkflowStep is one sequential approval gate within a workflow, addressed
// to an explicit user or to a role set. Owned exclusively by its parent
// Workflow and persisted as part of the aggregate.
type WorkflowStep struct {
	ID             string     `json:"id"`
	StepNumber     int        `json:"step_number"`
	Name           string     `json:"name"`
	ApproverRoles  []string   `json:"approver_roles"`
	ApproverUserID *string    `json:"approver_user_id,omitempty"`
	Status         StepStatus `json:"status"`
	// Required is recorded for reporting but is not consulted by any
	// transition rule: every step must be explicitly decided.
	Required   bool       `json:"required"`
	Comments   *string    `json:"comments,omitempty"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	c := *s
	c.ApproverRoles = append([]string(nil), s.ApproverRoles...)
	c.ApproverUserID = clonePtr(s.ApproverUserID)
	c.Comments = clonePtr(s.Comments)
	c.ApprovedBy = clonePtr(s.ApprovedBy)
	c.ApprovedAt = clonePtr(s.ApprovedAt)
	return &c
}

// Workflow is one in-flight or completed approval process tied to a single
// business entity instance. Completed workflows are never deleted; they
// remain as an audit record.
type Workflow struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	CompanyID  string          `json:"company_id"`
	Steps      []*WorkflowStep `json:"steps"`
	// CurrentStep indexes the first not-yet-decided step while the workflow
	// is non-terminal.
	CurrentStep int            `json:"current_step"`
	Status      WorkflowStatus `json:"status"`
	CreatedBy   string         `json:"created_by"`
	// Version backs the store's optimistic concurrency check. Zero means the
	// workflow has never been saved.
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the workflow, so readers are never exposed to
// a half-applied mutation from a concurrent action.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Steps = make([]*WorkflowStep, len(w.Steps))
	for i, step := range w.Steps {
		c.Steps[i] = step.Clone()
	}
	c.CompletedAt = clonePtr(w.CompletedAt)
	return &c
}

// Current returns the step addressed by CurrentStep, or nil when the index
// is out of range (terminal workflows that consumed every step).
func (w *Workflow) Current() *WorkflowStep {
	if w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return nil
	}
	return w.Steps[w.CurrentStep]
}

// StepID builds the deterministic id of the n-th step of a workflow.
func StepID(workflowID string, stepNumber int) string {
	return fmt.Sprintf("%s-step-%d", workflowID, stepNumber)
}

// ── Audit trail ──────────────────────────────────────────────────────────────

// Audit actions recorded against a workflow.
const (
	AuditSubmitted = "submitted"
	AuditApproved  = "approved"
	AuditRejected  = "rejected"
	AuditCancelled = "cancelled"
)

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	CompanyID    string         `json:"company_id"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore WorkflowStatus `json:"status_before"`
	StatusAfter  WorkflowStatus `json:"status_after"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
