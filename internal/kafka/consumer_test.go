package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recordingHandler struct {
	flagged []string
}

func (h *recordingHandler) Sync(_ context.Context, _ domain.SyncSubmission, _ bool) (*domain.Snapshot, error) {
	return &domain.Snapshot{}, nil
}

func (h *recordingHandler) RecordBadSignature(_ context.Context, accountID string) {
	h.flagged = append(h.flagged, accountID)
}

func newTestConsumer(mode string) (*Consumer, *recordingHandler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	handler := &recordingHandler{}
	sig := anticheat.NewSignatureCheck(&config.AuthConfig{
		SyncHMACKey:    "broker-key",
		SyncHMACMode:   mode,
		SyncHMACWindow: 5 * time.Minute,
	})
	c := &Consumer{
		handler: handler,
		sig:     sig,
		clock:   clock,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return c, handler, clock
}

func signedSubmission(t *testing.T, key string, clock *fakeClock) domain.SyncSubmission {
	t.Helper()
	sub := domain.SyncSubmission{
		AccountID: "acct-1",
		XP:        1200,
		Level:     4,
		Stats:     map[string]int64{"kills": 3},
	}
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	sub.SignedAt = clock.now.Unix()
	sub.Signature = anticheat.Sign([]byte(key), data, sub.SignedAt)
	return sub
}

func TestCheckSignatureAcceptsSignedSubmission(t *testing.T) {
	c, handler, clock := newTestConsumer("enforce")
	sub := signedSubmission(t, "broker-key", clock)

	signed, drop := c.checkSignature(context.Background(), sub)
	assert.True(t, signed)
	assert.False(t, drop)
	assert.Empty(t, handler.flagged)
}

func TestCheckSignatureEnforceDropsBadSignature(t *testing.T) {
	c, handler, clock := newTestConsumer("enforce")
	sub := signedSubmission(t, "wrong-key", clock)

	signed, drop := c.checkSignature(context.Background(), sub)
	assert.False(t, signed)
	assert.True(t, drop)
	assert.Equal(t, []string{"acct-1"}, handler.flagged)
}

func TestCheckSignatureSoftModePassesUnsigned(t *testing.T) {
	c, handler, _ := newTestConsumer("soft")

	// Missing signature in soft mode is admitted as unsigned, not flagged
	signed, drop := c.checkSignature(context.Background(), domain.SyncSubmission{AccountID: "acct-1"})
	assert.False(t, signed)
	assert.False(t, drop)
	assert.Empty(t, handler.flagged)
}

func TestCheckSignatureSoftModeFlagsTamper(t *testing.T) {
	c, handler, clock := newTestConsumer("soft")
	sub := signedSubmission(t, "broker-key", clock)
	sub.XP = 999999

	signed, drop := c.checkSignature(context.Background(), sub)
	assert.False(t, signed)
	assert.False(t, drop)
	assert.Equal(t, []string{"acct-1"}, handler.flagged)
}

func TestCheckSignatureDisabled(t *testing.T) {
	c, handler, _ := newTestConsumer("soft")
	c.sig = nil

	signed, drop := c.checkSignature(context.Background(), domain.SyncSubmission{AccountID: "acct-1"})
	assert.False(t, signed)
	assert.False(t, drop)
	assert.Empty(t, handler.flagged)
}
