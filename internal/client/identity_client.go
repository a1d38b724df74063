package client

import (
	"context"
	"fmt"
	"net/url"
)

// IdentityClient resolves user roles from the platform identity service over
// its HTTP API. The engine consults it at decision time so that a role
// revoked after token issuance cannot still approve.
type IdentityClient struct {
	client *httpClient
}

// NewIdentityClient creates a client for the identity service.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{client: newHTTPClient(baseURL)}
}

type userRolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// GetUserRoles returns the role names a user currently holds for a company.
func (c *IdentityClient) GetUserRoles(ctx context.Context, companyID, userID string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/users/%s/roles?company_id=%s",
		url.PathEscape(userID), url.QueryEscape(companyID))

	var resp userRolesResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve user roles: %w", err)
	}
	return resp.Roles, nil
}
