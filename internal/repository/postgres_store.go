package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// PostgresWorkflowStore persists workflow aggregates as single rows with the
// step sequence held in a JSONB column, so the optimistic version check on
// the row covers the whole aggregate.
type PostgresWorkflowStore struct {
	db *database.DB
}

// NewPostgresWorkflowStore creates a store backed by the given database.
func NewPostgresWorkflowStore(db *database.DB) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const workflowSchema = `
CREATE TABLE IF NOT EXISTS approval_workflows (
    id           TEXT PRIMARY KEY,
    entity_type  TEXT        NOT NULL,
    entity_id    TEXT        NOT NULL,
    company_id   TEXT        NOT NULL,
    status       TEXT        NOT NULL,
    current_step INT         NOT NULL,
    created_by   TEXT        NOT NULL,
    steps        JSONB       NOT NULL,
    version      BIGINT      NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_approval_workflows_company
    ON approval_workflows (company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_approval_workflows_status
    ON approval_workflows (status);

CREATE TABLE IF NOT EXISTS approval_audit_log (
    id            TEXT PRIMARY KEY,
    workflow_id   TEXT        NOT NULL,
    company_id    TEXT        NOT NULL,
    action        TEXT        NOT NULL,
    performed_by  TEXT        NOT NULL,
    performed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status_before TEXT        NOT NULL,
    status_after  TEXT        NOT NULL,
    metadata      JSONB
);
CREATE INDEX IF NOT EXISTS idx_approval_audit_workflow
    ON approval_audit_log (workflow_id, performed_at ASC);
`

// EnsureSchema creates the workflow and audit tables when missing.
func (s *PostgresWorkflowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, workflowSchema); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to ensure approvals schema")
	}
	return nil
}

// Save inserts when Version is zero, otherwise updates with a compare-and-set
// on the version column. Advances wf.Version in place on success.
func (s *PostgresWorkflowStore) Save(ctx context.Context, wf *Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow steps")
	}

	if wf.Version == 0 {
		query := `
			INSERT INTO approval_workflows
			    (id, entity_type, entity_id, company_id, status,
			     current_step, created_by, steps, version,
			     created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8, 1,
			        $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
			RETURNING version
		`
		var version int64
		err := s.db.QueryRow(ctx, query,
			wf.ID,
			wf.EntityType,
			wf.EntityID,
			wf.CompanyID,
			wf.Status,
			wf.CurrentStep,
			wf.CreatedBy,
			stepsJSON,
			wf.CreatedAt,
			wf.UpdatedAt,
			wf.CompletedAt,
		).Scan(&version)
		if err == pgx.ErrNoRows {
			return ErrVersionConflict
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert workflow")
		}
		wf.Version = version
		return nil
	}

	query := `
		UPDATE approval_workflows
		SET status       = $3,
		    current_step = $4,
		    steps        = $5,
		    updated_at   = $6,
		    completed_at = $7,
		    version      = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	var version int64
	err = s.db.QueryRow(ctx, query,
		wf.ID,
		wf.Version,
		wf.Status,
		wf.CurrentStep,
		stepsJSON,
		wf.UpdatedAt,
		wf.CompletedAt,
	).Scan(&version)
	if err == pgx.ErrNoRows {
		return ErrVersionConflict
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow")
	}
	wf.Version = version
	return nil
}

// Load returns the workflow, or (nil, nil) when the id is unknown.
func (s *PostgresWorkflowStore) Load(ctx context.Context, id string) (*Workflow, error) {
	query := `
		SELECT id, entity_type, entity_id, company_id, status,
		       current_step, created_by, steps, version,
		       created_at, updated_at, completed_at
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := s.scanWorkflow(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ListByCompany returns all workflows for a company, newest first.
func (s *PostgresWorkflowStore) ListByCompany(ctx context.Context, companyID string) ([]*Workflow, error) {
	query := `
		SELECT id, entity_type, entity_id, company_id, status,
		       current_step, created_by, steps, version,
		       created_at, updated_at, completed_at
		FROM approval_workflows
		WHERE company_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	return s.scanRows(rows)
}

// ListPending returns all non-terminal workflows, oldest first.
func (s *PostgresWorkflowStore) ListPending(ctx context.Context) ([]*Workflow, error) {
	query := `
		SELECT id, entity_type, entity_id, company_id, status,
		       current_step, created_by, steps, version,
		       created_at, updated_at, completed_at
		FROM approval_workflows
		WHERE status IN ('pending', 'in_progress')
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending workflows")
	}
	defer rows.Close()

	return s.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresWorkflowStore) scanWorkflow(row workflowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var stepsJSON []byte

	err := row.Scan(
		&wf.ID,
		&wf.EntityType,
		&wf.EntityID,
		&wf.CompanyID,
		&wf.Status,
		&wf.CurrentStep,
		&wf.CreatedBy,
		&stepsJSON,
		&wf.Version,
		&wf.CreatedAt,
		&wf.UpdatedAt,
		&wf.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow steps")
	}
	return wf, nil
}

func (s *PostgresWorkflowStore) scanRows(rows pgx.Rows) ([]*Workflow, error) {
	var workflows []*Workflow
	for rows.Next() {
		wf, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}
