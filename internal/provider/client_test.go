package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profile-ledger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdentityExchange(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identity", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"tw-42","login":"nightowl","email":"owl@example.com","email_verified":true,"subscription_tier":2}`))
		case "Bearer bad-token":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(domain.ProviderTwitch, srv.URL, testLogger())

	ident, err := c.Identity(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "tw-42", ident.ProviderID)
	assert.Equal(t, "nightowl", ident.Login)
	assert.Equal(t, "owl@example.com", ident.Email)
	assert.True(t, ident.Verified)
	assert.Equal(t, 2, ident.Tier)

	_, err = c.Identity(context.Background(), "bad-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.Identity(context.Background(), "weird-token")
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	_, err = c.Identity(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestIdentityProviderDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(domain.ProviderDiscord, srv.URL, testLogger())
	_, err := c.Identity(context.Background(), "token")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]string{"twitch": "http://localhost:1"}, testLogger())

	_, err := r.For(domain.ProviderTwitch)
	require.NoError(t, err)

	_, err = r.For(domain.ProviderDiscord)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
