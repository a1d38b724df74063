package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// PostgresAuditStore appends and reads immutable approval audit log entries.
type PostgresAuditStore struct {
	db *database.DB
}

// NewPostgresAuditStore creates an audit store backed by the given database.
func NewPostgresAuditStore(db *database.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Append inserts one audit entry. The log is append-only; no update or
// delete operation is exposed.
func (s *PostgresAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (id, workflow_id, company_id, action, performed_by,
		     performed_at, status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.CompanyID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedAt,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByWorkflow returns the audit trail for a workflow, oldest first.
func (s *PostgresAuditStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, workflow_id, company_id, action, performed_by,
		       performed_at, status_before, status_after, metadata
		FROM approval_audit_log
		WHERE workflow_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := s.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return s.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (s *PostgresAuditStore) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&entry.CompanyID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
