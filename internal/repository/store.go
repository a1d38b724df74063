package repository

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned by Save when the stored workflow's version
// no longer matches the version the caller loaded. The caller must re-read
// and decide whether its action is still applicable.
var ErrVersionConflict = errors.New("workflow version conflict")

// WorkflowStore is durable keyed storage for workflow aggregates. The engine
// is written against this interface; correctness relies on Save's optimistic
// concurrency check, which is what makes the per-workflow critical section
// hold across processes.
type WorkflowStore interface {
	// Save persists the workflow. A version of zero inserts; a non-zero
	// version updates only if it matches the stored version, returning
	// ErrVersionConflict otherwise. On success the workflow's Version is
	// advanced in place.
	Save(ctx context.Context, wf *Workflow) error

	// Load returns a deep copy of the workflow, or (nil, nil) when absent.
	Load(ctx context.Context, id string) (*Workflow, error)

	// ListByCompany returns deep copies of all workflows for a company,
	// newest first.
	ListByCompany(ctx context.Context, companyID string) ([]*Workflow, error)

	// ListPending returns deep copies of all non-terminal workflows.
	ListPending(ctx context.Context) ([]*Workflow, error)
}

// AuditStore is append-only storage for the approval audit trail.
type AuditStore interface {
	// Append inserts one audit entry.
	Append(ctx context.Context, entry *AuditEntry) error

	// ListByWorkflow returns the audit trail for a workflow, oldest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*AuditEntry, error)
}
