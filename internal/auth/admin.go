package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/profile-ledger/internal/domain"
)

// Admin guards the administrative route group with bearer JWTs and issues
// the confirmation tokens required by destructive operations.
type Admin struct {
	secret []byte
	clock  domain.Clock
}

// NewAdmin creates the admin guard
func NewAdmin(secret string, clock domain.Clock) *Admin {
	return &Admin{secret: []byte(secret), clock: clock}
}

// Enabled reports whether an admin secret is configured
func (a *Admin) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken mints an admin bearer token, used by ops tooling and tests
func (a *Admin) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid admin bearer token
func (a *Admin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			http.Error(w, "admin access not configured", http.StatusForbidden)
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.clock.Now))
		if err != nil || !token.Valid {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			http.Error(w, "insufficient role", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ConfirmToken derives the confirmation token a caller must echo to run a
// destructive operation against a target
func (a *Admin) ConfirmToken(action, target string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(action))
	mac.Write([]byte{0})
	mac.Write([]byte(target))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// VerifyConfirm checks an echoed confirmation token
func (a *Admin) VerifyConfirm(action, target, token string) bool {
	return token != "" && hmac.Equal([]byte(a.ConfirmToken(action, target)), []byte(token))
}
