package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func protected(a *Admin) (http.Handler, *bool) {
	reached := new(bool)
	return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})), reached
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	a := NewAdmin("it-is-a-secret", clock)
	require.True(t, a.Enabled())

	tok, err := a.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	h, reached := protected(a)
	req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *reached)
}

func TestMiddlewareRejections(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	a := NewAdmin("it-is-a-secret", clock)

	tok, err := a.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		setup  func()
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.jwt", status: http.StatusUnauthorized},
		{
			name:   "expired token",
			header: "Bearer " + tok,
			setup:  func() { clock.now = clock.now.Add(2 * time.Hour) },
			status: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			h, reached := protected(a)
			req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, *reached)
		})
	}
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	t.Parallel()

	a := NewAdmin("", &fakeClock{now: time.Now()})
	assert.False(t, a.Enabled())

	h, reached := protected(a)
	req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, *reached)
}

func TestConfirmTokens(t *testing.T) {
	t.Parallel()

	a := NewAdmin("it-is-a-secret", &fakeClock{now: time.Now()})

	tok := a.ConfirmToken("purge", "acct-1")
	assert.Len(t, tok, 16)

	assert.True(t, a.VerifyConfirm("purge", "acct-1", tok))
	assert.False(t, a.VerifyConfirm("purge", "acct-2", tok))
	assert.False(t, a.VerifyConfirm("merge", "acct-1", tok))
	assert.False(t, a.VerifyConfirm("purge", "acct-1", ""))

	other := NewAdmin("different-secret", &fakeClock{now: time.Now()})
	assert.False(t, other.VerifyConfirm("purge", "acct-1", tok))
}
