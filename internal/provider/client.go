package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/profile-ledger/internal/domain"
)

// Client verifies a bearer credential with an external identity provider.
// Implementations must distinguish a rejected credential from any other
// failure.
type Client interface {
	Identity(ctx context.Context, bearer string) (*domain.ProviderIdentity, error)
}

// HTTPClient talks to one provider's identity endpoint
type HTTPClient struct {
	kind    domain.ProviderKind
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a provider client for one provider kind
func NewHTTPClient(kind domain.ProviderKind, baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		kind:    kind,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// identityResponse is the provider's wire shape
type identityResponse struct {
	ID       string `json:"id"`
	Login    string `json:"login"`
	Email    string `json:"email"`
	Verified bool   `json:"email_verified"`
	Tier     int    `json:"subscription_tier"`
}

// Identity exchanges a bearer credential for the provider-native identity.
// A 401/403 maps to ErrUnauthorized; everything else unexpected maps to
// ErrUnavailable.
func (c *HTTPClient) Identity(ctx context.Context, bearer string) (*domain.ProviderIdentity, error) {
	if bearer == "" {
		return nil, domain.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/identity", nil)
	if err != nil {
		return nil, fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", "kind", c.kind, "error", err)
		return nil, domain.ErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("provider returned unexpected status", "kind", c.kind, "status", resp.StatusCode)
		return nil, domain.ErrUnavailable
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn("provider response undecodable", "kind", c.kind, "error", err)
		return nil, domain.ErrUnavailable
	}
	if body.ID == "" {
		return nil, domain.ErrUnavailable
	}

	return &domain.ProviderIdentity{
		ProviderID: body.ID,
		Login:      body.Login,
		Email:      body.Email,
		Verified:   body.Verified,
		Tier:       body.Tier,
	}, nil
}

// Registry holds one client per configured provider kind
type Registry struct {
	clients map[domain.ProviderKind]Client
}

// NewRegistry builds clients from the configured base URLs
func NewRegistry(baseURLs map[string]string, logger *slog.Logger) *Registry {
	clients := make(map[domain.ProviderKind]Client, len(baseURLs))
	for kind, url := range baseURLs {
		clients[domain.ProviderKind(kind)] = NewHTTPClient(domain.ProviderKind(kind), url, logger)
	}
	return &Registry{clients: clients}
}

// For returns the client for a provider kind
func (r *Registry) For(kind domain.ProviderKind) (Client, error) {
	client, ok := r.clients[kind]
	if !ok {
		return nil, domain.ErrInvalidRequest
	}
	return client, nil
}

// Set installs a client, used by tests and custom wiring
func (r *Registry) Set(kind domain.ProviderKind, client Client) {
	if r.clients == nil {
		r.clients = make(map[domain.ProviderKind]Client)
	}
	r.clients[kind] = client
}
