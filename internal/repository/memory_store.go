package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryWorkflowStore is a mutex-guarded in-memory WorkflowStore for tests
// and local development. It enforces the same optimistic versioning contract
// as the Postgres store and only ever stores and returns deep copies.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryWorkflowStore creates an empty in-memory store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*Workflow)}
}

// Save inserts or updates with an optimistic version check.
func (s *MemoryWorkflowStore) Save(ctx context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.ID]
	if wf.Version == 0 {
		if ok {
			return ErrVersionConflict
		}
	} else {
		if !ok || existing.Version != wf.Version {
			return ErrVersionConflict
		}
	}

	wf.Version++
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// Load returns a deep copy, or (nil, nil) when the id is unknown.
func (s *MemoryWorkflowStore) Load(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return wf.Clone(), nil
}

// ListByCompany returns all workflows for a company, newest first.
func (s *MemoryWorkflowStore) ListByCompany(ctx context.Context, companyID string) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Workflow
	for _, wf := range s.workflows {
		if wf.CompanyID == companyID {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListPending returns all non-terminal workflows.
func (s *MemoryWorkflowStore) ListPending(ctx context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Workflow
	for _, wf := range s.workflows {
		if !wf.Status.Terminal() {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryAuditStore is an in-memory append-only audit log.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Append records one audit entry, stamping id and time when unset.
func (s *MemoryAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, &e)
	return nil
}

// ListByWorkflow returns the audit trail for a workflow, oldest first.
func (s *MemoryAuditStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range s.entries {
		if e.WorkflowID == workflowID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}
