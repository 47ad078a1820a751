package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/profile-ledger/internal/domain"
)

// accountKey returns the key for a canonical account record
func accountKey(accountID string) string {
	return fmt.Sprintf("account:%s", accountID)
}

// providerIndexKey returns the key mapping a provider identity to an account id
func providerIndexKey(kind domain.ProviderKind, providerID string) string {
	return fmt.Sprintf("idx:provider:%s:%s", kind, providerID)
}

// emailIndexKey returns the key mapping a lowercased email to an account id
func emailIndexKey(email string) string {
	return fmt.Sprintf("idx:email:%s", strings.ToLower(email))
}

// nameIndexKey returns the key mapping a lowercased display name to an account id
func nameIndexKey(name string) string {
	return fmt.Sprintf("idx:name:%s", strings.ToLower(name))
}

// legacyKey returns the key for a pre-unification single-provider record
func legacyKey(kind domain.ProviderKind, providerID string) string {
	return fmt.Sprintf("legacy:%s:%s", kind, providerID)
}

// presenceKey returns the short-lived key marking an account as recently seen
func presenceKey(accountID string) string {
	return fmt.Sprintf("presence:%s", accountID)
}

// Account reads a canonical account record
func (s *Store) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	var acct domain.Account
	if err := s.GetJSON(ctx, accountKey(accountID), &acct); err != nil {
		if err == ErrNotFound {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// SaveAccount writes a canonical account record
func (s *Store) SaveAccount(ctx context.Context, acct *domain.Account) error {
	return s.SetJSON(ctx, accountKey(acct.ID), acct, 0)
}

// DeleteAccount removes a canonical account record. Index entries pointing at
// it become orphans repaired lazily on read.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	return s.Del(ctx, accountKey(accountID))
}

// ProviderIndex resolves a provider identity to an account id
func (s *Store) ProviderIndex(ctx context.Context, kind domain.ProviderKind, providerID string) (string, error) {
	return s.GetString(ctx, providerIndexKey(kind, providerID))
}

// SetProviderIndex points a provider identity at an account id
func (s *Store) SetProviderIndex(ctx context.Context, kind domain.ProviderKind, providerID, accountID string) error {
	return s.SetString(ctx, providerIndexKey(kind, providerID), accountID, 0)
}

// DelProviderIndex removes a provider index entry
func (s *Store) DelProviderIndex(ctx context.Context, kind domain.ProviderKind, providerID string) error {
	return s.Del(ctx, providerIndexKey(kind, providerID))
}

// EmailIndex resolves an email to an account id
func (s *Store) EmailIndex(ctx context.Context, email string) (string, error) {
	return s.GetString(ctx, emailIndexKey(email))
}

// SetEmailIndex points an email at an account id
func (s *Store) SetEmailIndex(ctx context.Context, email, accountID string) error {
	return s.SetString(ctx, emailIndexKey(email), accountID, 0)
}

// DelEmailIndex removes an email index entry
func (s *Store) DelEmailIndex(ctx context.Context, email string) error {
	return s.Del(ctx, emailIndexKey(email))
}

// NameIndex resolves a display name to an account id
func (s *Store) NameIndex(ctx context.Context, name string) (string, error) {
	return s.GetString(ctx, nameIndexKey(name))
}

// SetNameIndex points a display name at an account id
func (s *Store) SetNameIndex(ctx context.Context, name, accountID string) error {
	return s.SetString(ctx, nameIndexKey(name), accountID, 0)
}

// DelNameIndex removes a display name index entry
func (s *Store) DelNameIndex(ctx context.Context, name string) error {
	return s.Del(ctx, nameIndexKey(name))
}

// LegacyRecord reads a pre-unification single-provider record
func (s *Store) LegacyRecord(ctx context.Context, kind domain.ProviderKind, providerID string) (*domain.LegacyRecord, error) {
	var rec domain.LegacyRecord
	if err := s.GetJSON(ctx, legacyKey(kind, providerID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveLegacyRecord writes a legacy record, used by migration tooling and tests
func (s *Store) SaveLegacyRecord(ctx context.Context, kind domain.ProviderKind, providerID string, rec *domain.LegacyRecord) error {
	return s.SetJSON(ctx, legacyKey(kind, providerID), rec, 0)
}

// DeleteLegacyRecord removes a legacy record once migrated
func (s *Store) DeleteLegacyRecord(ctx context.Context, kind domain.ProviderKind, providerID string) error {
	return s.Del(ctx, legacyKey(kind, providerID))
}

// TouchPresence marks an account as online for the freshness window
func (s *Store) TouchPresence(ctx context.Context, accountID string, window time.Duration) error {
	return s.SetString(ctx, presenceKey(accountID), "1", window)
}

// Online reports whether an account was seen within the presence window.
// Store errors degrade to offline.
func (s *Store) Online(ctx context.Context, accountID string) bool {
	_, err := s.GetString(ctx, presenceKey(accountID))
	return err == nil
}

// ScanAccounts iterates stored accounts under a wall-clock budget. fn returns
// done=true to stop early. Returns false when the budget expired before the
// keyspace was exhausted.
func (s *Store) ScanAccounts(ctx context.Context, budget time.Duration, fn func(acct *domain.Account) (done bool, err error)) (bool, error) {
	return s.ScanBudget(ctx, "account:*", budget, func(key string) (bool, error) {
		var acct domain.Account
		if err := s.GetJSON(ctx, key, &acct); err != nil {
			if err == ErrNotFound {
				return false, nil
			}
			s.logger.Warn("skipping unreadable account during scan", "key", key, "error", err)
			return false, nil
		}
		return fn(&acct)
	})
}
