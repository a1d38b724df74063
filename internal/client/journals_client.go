package client

import (
	"context"
	"fmt"
)

// JournalsClient is a client for the journals service (GL-2).
type JournalsClient struct {
	client *httpClient
}

// NewJournalsClient creates a new journals service client.
func NewJournalsClient(baseURL string) *JournalsClient {
	return &JournalsClient{client: newHTTPClient(baseURL)}
}

// CreateJournalRequest represents a create journal entry request. Reference
// carries the caller's idempotency key: the journals service deduplicates
// journal creation on it.
type CreateJournalRequest struct {
	CompanyID   string  `json:"company_id"`
	JournalDate string  `json:"journal_date"`
	JournalType string  `json:"journal_type"`
	Description *string `json:"description,omitempty"`
	Reference   string  `json:"reference"`
	SourceType  string  `json:"source_type"`
	SourceID    string  `json:"source_id"`
}

// CreateJournalResponse represents the create journal response.
type CreateJournalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateJournal creates a journal entry and returns its id.
func (c *JournalsClient) CreateJournal(ctx context.Context, req *CreateJournalRequest) (string, error) {
	var resp CreateJournalResponse
	if err := c.client.Post(ctx, "/api/v1/journals", req, &resp); err != nil {
		return "", fmt.Errorf("failed to create journal entry: %w", err)
	}
	return resp.ID, nil
}

// PostJournalRequest represents a post journal request.
type PostJournalRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
}

// PostJournal posts a journal entry to the ledger.
func (c *JournalsClient) PostJournal(ctx context.Context, journalID, companyID string) error {
	req := PostJournalRequest{ID: journalID, CompanyID: companyID}
	if err := c.client.Post(ctx, "/api/v1/journals/post", req, nil); err != nil {
		return fmt.Errorf("failed to post journal entry: %w", err)
	}
	return nil
}
