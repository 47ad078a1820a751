package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
)

// Resolution is the outcome of mapping an external identity to an account
type Resolution struct {
	Exists            bool   `json:"exists"`
	AccountID         string `json:"account_id,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	NeedsRegistration bool   `json:"needs_registration"`
}

// Resolver maps external provider identities onto canonical accounts. All
// secondary indexes it consults are treated as caches and verified against
// the account record on every read.
type Resolver struct {
	kv     *kv.Store
	cfg    *config.IdentityConfig
	policy Policy
	clock  domain.Clock
	cache  *scanCache
	logger *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(store *kv.Store, cfg *config.IdentityConfig, policy Policy, clock domain.Clock, logger *slog.Logger) *Resolver {
	return &Resolver{
		kv:     store,
		cfg:    cfg,
		policy: policy,
		clock:  clock,
		cache:  newScanCache(cfg.LegacyCacheTTL),
		logger: logger,
	}
}

// Account loads a canonical account record
func (r *Resolver) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.kv.Account(ctx, accountID)
}

// providerIndex builds the self-healing index view for one provider identity
func (r *Resolver) providerIndex(kind domain.ProviderKind, providerID string) healingIndex {
	return healingIndex{
		name:   "provider",
		lookup: func(ctx context.Context) (string, error) { return r.kv.ProviderIndex(ctx, kind, providerID) },
		drop:   func(ctx context.Context) error { return r.kv.DelProviderIndex(ctx, kind, providerID) },
		owns: func(acct *domain.Account) bool {
			link := acct.LinkFor(kind)
			return link != nil && link.ProviderID == providerID
		},
	}
}

// nameIndex builds the self-healing index view for one display name
func (r *Resolver) nameIndex(name string) healingIndex {
	return healingIndex{
		name:   "name",
		lookup: func(ctx context.Context) (string, error) { return r.kv.NameIndex(ctx, name) },
		drop:   func(ctx context.Context) error { return r.kv.DelNameIndex(ctx, name) },
		owns: func(acct *domain.Account) bool {
			return acct.NameChosen && strings.EqualFold(acct.Name, name)
		},
	}
}

// emailIndex builds the self-healing index view for one email
func (r *Resolver) emailIndex(email string) healingIndex {
	return healingIndex{
		name:   "email",
		lookup: func(ctx context.Context) (string, error) { return r.kv.EmailIndex(ctx, email) },
		drop:   func(ctx context.Context) error { return r.kv.DelEmailIndex(ctx, email) },
		owns: func(acct *domain.Account) bool {
			return strings.EqualFold(acct.Email, email)
		},
	}
}

// Resolve maps a provider identity (and optional email) to a canonical
// account. Lookup order: provider index, legacy single-provider record,
// email soft match, bounded repair scan. Lookups never raise on a missing
// backing store; they degrade to needs-registration.
func (r *Resolver) Resolve(ctx context.Context, kind domain.ProviderKind, providerID, email string) (*Resolution, error) {
	// Primary provider index
	acct, err := r.providerIndex(kind, providerID).resolve(ctx, r.kv, r.logger)
	if err != nil {
		r.logger.Warn("provider index lookup degraded", "kind", kind, "error", err)
	}
	if acct != nil {
		return found(acct), nil
	}

	// Legacy single-provider record, migrated in place on first hit
	if rec, err := r.kv.LegacyRecord(ctx, kind, providerID); err == nil {
		migrated, err := r.migrate(ctx, rec, kind)
		if err != nil {
			r.logger.Error("legacy migration failed", "kind", kind, "provider_id", providerID, "error", err)
		} else {
			return found(migrated), nil
		}
	} else if err != kv.ErrNotFound {
		r.logger.Warn("legacy record lookup degraded", "kind", kind, "error", err)
	}

	// Email-based soft match: same email means same person, so the new
	// provider identity is linked automatically.
	if email != "" {
		owner, err := r.emailIndex(email).resolve(ctx, r.kv, r.logger)
		if err != nil {
			r.logger.Warn("email index lookup degraded", "error", err)
		}
		if owner != nil {
			if err := r.attachLink(ctx, owner, kind, providerID, ""); err != nil {
				r.logger.Warn("email soft-match link failed", "account_id", owner.ID, "error", err)
			}
			return found(owner), nil
		}
	}

	// The index may have been lost while the account survived. A time-boxed
	// scan locates the owner and repairs the index; on timeout the lookup
	// degrades to not-found instead of blocking.
	if acct := r.scanForOwner(ctx, kind, providerID); acct != nil {
		return found(acct), nil
	}

	return &Resolution{NeedsRegistration: true}, nil
}

func found(acct *domain.Account) *Resolution {
	return &Resolution{
		Exists:      true,
		AccountID:   acct.ID,
		DisplayName: acct.PublicName(),
	}
}

// migrate converts a legacy record into a canonical account and installs it
func (r *Resolver) migrate(ctx context.Context, rec *domain.LegacyRecord, kind domain.ProviderKind) (*domain.Account, error) {
	now := r.clock.Now()
	acct := MigrateLegacy(rec, kind, domain.SeasonTag(now), now)

	if err := r.kv.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("saving migrated account: %w", err)
	}
	if err := r.kv.SetProviderIndex(ctx, kind, rec.ProviderID, acct.ID); err != nil {
		r.logger.Warn("failed to index migrated account", "account_id", acct.ID, "error", err)
	}
	if acct.Email != "" {
		if err := r.kv.SetEmailIndex(ctx, acct.Email, acct.ID); err != nil {
			r.logger.Warn("failed to index migrated email", "account_id", acct.ID, "error", err)
		}
	}
	if err := r.kv.DeleteLegacyRecord(ctx, kind, rec.ProviderID); err != nil {
		r.logger.Warn("failed to delete migrated legacy record", "provider_id", rec.ProviderID, "error", err)
	}

	r.logger.Info("migrated legacy record", "account_id", acct.ID, "kind", kind, "provider_id", rec.ProviderID)
	return acct, nil
}

// scanForOwner walks stored accounts under the configured time budget
// looking for one that carries the provider link, repairing the index on a
// hit. A process-local cache fronts repeat scans for the same identity.
func (r *Resolver) scanForOwner(ctx context.Context, kind domain.ProviderKind, providerID string) *domain.Account {
	now := r.clock.Now()
	cacheKey := fmt.Sprintf("%s:%s", kind, providerID)
	if id, ok := r.cache.get(cacheKey, now); ok {
		if acct, err := r.kv.Account(ctx, id); err == nil {
			return acct
		}
	}

	var owner *domain.Account
	_, err := r.kv.ScanAccounts(ctx, r.cfg.ScanBudget, func(acct *domain.Account) (bool, error) {
		link := acct.LinkFor(kind)
		if link != nil && link.ProviderID == providerID {
			owner = acct
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		r.logger.Warn("account repair scan degraded", "kind", kind, "error", err)
		return nil
	}
	if owner == nil {
		return nil
	}

	if err := r.kv.SetProviderIndex(ctx, kind, providerID, owner.ID); err != nil {
		r.logger.Warn("provider index repair failed", "account_id", owner.ID, "error", err)
	} else {
		r.logger.Info("repaired lost provider index", "account_id", owner.ID, "kind", kind)
	}
	r.cache.put(cacheKey, owner.ID, now)
	return owner
}

// Register creates a canonical account for a first-time user with their
// chosen display name. A taken name yields ErrNameTaken unless the claimant
// proves legitimate prior ownership of it.
func (r *Resolver) Register(ctx context.Context, displayName string, kind domain.ProviderKind, providerID string, ident domain.ProviderIdentity) (*domain.Account, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || providerID == "" {
		return nil, domain.ErrInvalidRequest
	}

	// The provider identity must not already belong to a live account
	if existing, err := r.providerIndex(kind, providerID).resolve(ctx, r.kv, r.logger); err != nil {
		return nil, fmt.Errorf("checking provider index: %w", err)
	} else if existing != nil {
		return nil, domain.ErrProviderLinked
	}

	// Name uniqueness with orphan auto-clean: a dangling entry is removed by
	// the healing index and the name treated as available.
	holder, err := r.nameIndex(displayName).resolve(ctx, r.kv, r.logger)
	if err != nil {
		return nil, fmt.Errorf("checking name index: %w", err)
	}
	if holder != nil {
		if !r.canReclaim(ctx, displayName, kind, providerID, ident) {
			return nil, domain.ErrNameTaken
		}
		// Legitimate prior owner supersedes the holder's claim. The holder
		// keeps its account but its name reverts to provider-sourced.
		holder.NameChosen = false
		holder.UpdatedAt = r.clock.Now()
		if err := r.kv.SaveAccount(ctx, holder); err != nil {
			return nil, fmt.Errorf("displacing name holder: %w", err)
		}
		if err := r.kv.DelNameIndex(ctx, displayName); err != nil {
			r.logger.Warn("failed to drop displaced name index", "name", displayName, "error", err)
		}
		r.logger.Info("display name reclaimed", "name", displayName, "displaced_account", holder.ID)
	}

	now := r.clock.Now()
	var acct *domain.Account
	if rec, err := r.kv.LegacyRecord(ctx, kind, providerID); err == nil {
		// Registration with a legacy record behind it keeps the archived
		// progression instead of starting from the floor.
		acct = MigrateLegacy(rec, kind, domain.SeasonTag(now), now)
		if err := r.kv.DeleteLegacyRecord(ctx, kind, providerID); err != nil {
			r.logger.Warn("failed to delete migrated legacy record", "provider_id", providerID, "error", err)
		}
	} else {
		acct = &domain.Account{
			ID: uuid.New().String(),
			Links: []domain.ProviderLink{{
				Kind:       kind,
				ProviderID: providerID,
				Login:      ident.Login,
				LinkedAt:   now,
			}},
			Season:       domain.SeasonTag(now),
			Level:        domain.SeasonFloorLevel,
			XP:           domain.SeasonFloorXP,
			HighestLevel: domain.SeasonFloorLevel,
			Unlocks:      domain.UnlocksForLevel(domain.SeasonFloorLevel),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	acct.Name = displayName
	acct.NameChosen = true
	if ident.Email != "" {
		acct.Email = ident.Email
	}

	if err := r.kv.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("saving account: %w", err)
	}
	if err := r.kv.SetProviderIndex(ctx, kind, providerID, acct.ID); err != nil {
		r.logger.Warn("failed to write provider index", "account_id", acct.ID, "error", err)
	}
	if err := r.kv.SetNameIndex(ctx, displayName, acct.ID); err != nil {
		r.logger.Warn("failed to write name index", "account_id", acct.ID, "error", err)
	}
	if acct.Email != "" {
		if err := r.kv.SetEmailIndex(ctx, acct.Email, acct.ID); err != nil {
			r.logger.Warn("failed to write email index", "account_id", acct.ID, "error", err)
		}
	}

	r.logger.Info("registered account", "account_id", acct.ID, "kind", kind)
	return acct, nil
}

// canReclaim applies the reclaim rule: legacy evidence (archived permanent
// level above zero for a record carrying the name) or allow-list presence.
// Ordinary users can never displace each other.
func (r *Resolver) canReclaim(ctx context.Context, displayName string, kind domain.ProviderKind, providerID string, ident domain.ProviderIdentity) bool {
	if rec, err := r.kv.LegacyRecord(ctx, kind, providerID); err == nil {
		if rec.HighestLevel > 0 && strings.EqualFold(rec.Login, displayName) {
			return true
		}
	}
	return r.policy.TierFloor(ident.Email, displayName) > 0
}

// Link attaches an additional provider identity to an existing account.
// Rejects when the identity belongs to a different live account, unless the
// claimant's email matches the owner's or legacy evidence proves prior
// ownership.
func (r *Resolver) Link(ctx context.Context, accountID string, kind domain.ProviderKind, providerID string, ident domain.ProviderIdentity) (*domain.Account, error) {
	if providerID == "" {
		return nil, domain.ErrInvalidRequest
	}

	acct, err := r.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	owner, err := r.providerIndex(kind, providerID).resolve(ctx, r.kv, r.logger)
	if err != nil {
		return nil, fmt.Errorf("checking provider index: %w", err)
	}
	if owner != nil && owner.ID != acct.ID {
		if !r.mayTakeOver(ctx, acct, owner, kind, providerID) {
			return nil, domain.ErrProviderLinked
		}
		// Release the identity from its previous owner before repointing
		links := owner.Links[:0]
		for _, l := range owner.Links {
			if !(l.Kind == kind && l.ProviderID == providerID) {
				links = append(links, l)
			}
		}
		owner.Links = links
		owner.UpdatedAt = r.clock.Now()
		if err := r.kv.SaveAccount(ctx, owner); err != nil {
			return nil, fmt.Errorf("releasing provider link: %w", err)
		}
		r.logger.Info("provider identity repointed",
			"kind", kind, "from_account", owner.ID, "to_account", acct.ID)
	}

	if err := r.attachLink(ctx, acct, kind, providerID, ident.Login); err != nil {
		return nil, err
	}
	return acct, nil
}

// mayTakeOver decides whether acct may claim a provider identity held by
// owner: matching emails auto-link, and legacy evidence wins.
func (r *Resolver) mayTakeOver(ctx context.Context, acct, owner *domain.Account, kind domain.ProviderKind, providerID string) bool {
	if acct.Email != "" && strings.EqualFold(acct.Email, owner.Email) {
		return true
	}
	if rec, err := r.kv.LegacyRecord(ctx, kind, providerID); err == nil && rec.HighestLevel > 0 {
		return true
	}
	return false
}

// attachLink adds or refreshes a provider link and its index entry
func (r *Resolver) attachLink(ctx context.Context, acct *domain.Account, kind domain.ProviderKind, providerID, login string) error {
	now := r.clock.Now()
	if existing := acct.LinkFor(kind); existing != nil {
		existing.ProviderID = providerID
		if login != "" {
			existing.Login = login
		}
	} else {
		acct.Links = append(acct.Links, domain.ProviderLink{
			Kind:       kind,
			ProviderID: providerID,
			Login:      login,
			LinkedAt:   now,
		})
	}
	acct.UpdatedAt = now

	if err := r.kv.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("saving linked account: %w", err)
	}
	if err := r.kv.SetProviderIndex(ctx, kind, providerID, acct.ID); err != nil {
		r.logger.Warn("failed to write provider index", "account_id", acct.ID, "error", err)
	}
	return nil
}
