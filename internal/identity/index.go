package identity

import (
	"context"
	"log/slog"

	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
)

// healingIndex wraps one denormalized secondary index as a single
// lookup-verify-repair operation. Index entries are caches: an entry
// pointing at a missing account is deleted on read and treated as absent,
// and an entry whose account no longer carries the reverse pointer is
// repaired from the account. Repair failures are logged, never fatal.
type healingIndex struct {
	name   string
	lookup func(ctx context.Context) (string, error)
	drop   func(ctx context.Context) error
	// owns reports whether the account still carries the reverse pointer
	// this index entry claims
	owns func(acct *domain.Account) bool
}

// accountSource loads canonical account records
type accountSource interface {
	Account(ctx context.Context, accountID string) (*domain.Account, error)
}

// resolve returns the live account the index points at, or nil when the
// entry is absent, dangling, or stale. Store failures degrade to absent.
func (ix healingIndex) resolve(ctx context.Context, accounts accountSource, logger *slog.Logger) (*domain.Account, error) {
	accountID, err := ix.lookup(ctx)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	acct, err := accounts.Account(ctx, accountID)
	if err != nil {
		if domain.IsNotFound(err) {
			// Dangling entry: the account was purged without this index
			// being cleaned. Delete it and treat the name as available.
			if dropErr := ix.drop(ctx); dropErr != nil {
				logger.Warn("failed to clean dangling index entry",
					"index", ix.name, "account_id", accountID, "error", dropErr)
			} else {
				logger.Info("cleaned dangling index entry",
					"index", ix.name, "account_id", accountID)
			}
			return nil, nil
		}
		return nil, err
	}

	if ix.owns != nil && !ix.owns(acct) {
		// Reverse pointer disagrees: the account is the record of truth, so
		// repair the index from it by dropping the stale entry.
		if dropErr := ix.drop(ctx); dropErr != nil {
			logger.Warn("failed to repair stale index entry",
				"index", ix.name, "account_id", accountID, "error", dropErr)
		} else {
			logger.Info("repaired stale index entry",
				"index", ix.name, "account_id", accountID)
		}
		return nil, nil
	}

	return acct, nil
}
