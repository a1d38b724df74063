package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ApprovedActionExecutor performs the business action gated behind an
// approved workflow. Finance entity types result in a journal entry being
// created and posted through the journals service; for the remaining types
// the owning service reacts to the published workflow_approved event, so
// nothing is done here beyond logging.
//
// Invocation is at-least-once: the journal Reference is the workflow id, and
// the journals service deduplicates creation on it, so a redelivered
// execution is a no-op downstream.
type ApprovedActionExecutor struct {
	journals *JournalsClient
	log      zerolog.Logger
}

// NewApprovedActionExecutor creates the executor.
func NewApprovedActionExecutor(journals *JournalsClient, log zerolog.Logger) *ApprovedActionExecutor {
	return &ApprovedActionExecutor{journals: journals, log: log}
}

// ExecuteApprovedAction implements the engine's ActionExecutor contract.
func (e *ApprovedActionExecutor) ExecuteApprovedAction(ctx context.Context, wf *repository.Workflow) error {
	switch wf.EntityType {
	case repository.EntityPayment, repository.EntityInvoice,
		repository.EntityExpense, repository.EntityTransfer:
		return e.postJournal(ctx, wf)
	default:
		e.log.Info().
			Str("workflow_id", wf.ID).
			Str("entity_type", string(wf.EntityType)).
			Str("entity_id", wf.EntityID).
			Msg("Approved action left to the owning service")
		return nil
	}
}

func (e *ApprovedActionExecutor) postJournal(ctx context.Context, wf *repository.Workflow) error {
	desc := "approved via workflow " + wf.ID
	journalID, err := e.journals.CreateJournal(ctx, &CreateJournalRequest{
		CompanyID:   wf.CompanyID,
		JournalDate: time.Now().UTC().Format("2006-01-02"),
		JournalType: "approval",
		Description: &desc,
		Reference:   wf.ID,
		SourceType:  string(wf.EntityType),
		SourceID:    wf.EntityID,
	})
	if err != nil {
		return err
	}
	if err := e.journals.PostJournal(ctx, journalID, wf.CompanyID); err != nil {
		return err
	}

	e.log.Info().
		Str("workflow_id", wf.ID).
		Str("journal_id", journalID).
		Str("entity_id", wf.EntityID).
		Msg("Approved action posted to journals")
	return nil
}
