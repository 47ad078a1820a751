package anticheat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
)

// Signature check outcomes
var (
	ErrSignatureMissing = errors.New("request signature missing")
	ErrSignatureStale   = errors.New("request signature outside freshness window")
	ErrSignatureInvalid = errors.New("request signature mismatch")
)

// SignatureCheck verifies an HMAC over {timestamp, body} accompanying a
// sync. In soft mode a failed or missing signature is logged by the caller
// but never rejects the request.
type SignatureCheck struct {
	key    []byte
	window time.Duration
	mode   string
}

// NewSignatureCheck builds a check from auth configuration. Returns nil when
// signing is disabled.
func NewSignatureCheck(cfg *config.AuthConfig) *SignatureCheck {
	if cfg.SyncHMACKey == "" || cfg.SyncHMACMode == "off" {
		return nil
	}
	return &SignatureCheck{
		key:    []byte(cfg.SyncHMACKey),
		window: cfg.SyncHMACWindow,
		mode:   cfg.SyncHMACMode,
	}
}

// Enforcing reports whether a failed signature should reject the request
func (c *SignatureCheck) Enforcing() bool {
	return c != nil && c.mode == "enforce"
}

// Verify checks the signature over the request body and signing timestamp
func (c *SignatureCheck) Verify(body []byte, signedAt int64, signature string, now time.Time) error {
	if signature == "" {
		return ErrSignatureMissing
	}
	ts := time.Unix(signedAt, 0)
	if ts.Before(now.Add(-c.window)) || ts.After(now.Add(c.window)) {
		return ErrSignatureStale
	}
	if !hmac.Equal([]byte(Sign(c.key, body, signedAt)), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifySubmission checks the signature embedded in a broker-delivered
// submission. The MAC covers the canonical serialization of the submission
// with the signature fields zeroed, which is what producers sign before
// attaching them.
func (c *SignatureCheck) VerifySubmission(sub domain.SyncSubmission, now time.Time) error {
	signature, signedAt := sub.Signature, sub.SignedAt
	sub.Signature = ""
	sub.SignedAt = 0
	body, err := json.Marshal(sub)
	if err != nil {
		return ErrSignatureInvalid
	}
	return c.Verify(body, signedAt, signature, now)
}

// Sign computes the hex HMAC-SHA256 over a signing timestamp and body
func Sign(key, body []byte, signedAt int64) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%d.", signedAt)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
