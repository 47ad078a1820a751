package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestResolver(t *testing.T) (*Resolver, *kv.Store, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewWithClient(client, logger)

	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	cfg := &config.IdentityConfig{
		ScanBudget:     2 * time.Second,
		LegacyCacheTTL: 5 * time.Minute,
		AllowList: []config.AllowListEntry{
			{Name: "PartneredStreamer", TierFloor: 2},
		},
	}
	return NewResolver(store, cfg, NewAllowListPolicy(cfg.AllowList), clock, logger), store, clock
}

func TestRegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	acct, err := r.Register(ctx, "NightOwl", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{
		Login: "nightowl", Email: "owl@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "NightOwl", acct.Name)
	assert.True(t, acct.NameChosen)
	assert.Equal(t, domain.SeasonFloorLevel, acct.Level)

	res, err := r.Resolve(ctx, domain.ProviderTwitch, "tw-1", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, acct.ID, res.AccountID)
	assert.Equal(t, "NightOwl", res.DisplayName)
}

func TestRegisterRejectsDuplicateProvider(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	_, err := r.Register(ctx, "First", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	require.NoError(t, err)

	_, err = r.Register(ctx, "Second", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	assert.ErrorIs(t, err, domain.ErrProviderLinked)
}

func TestRegisterRejectsTakenName(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	_, err := r.Register(ctx, "NightOwl", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	require.NoError(t, err)

	_, err = r.Register(ctx, "NightOwl", domain.ProviderDiscord, "dc-2", domain.ProviderIdentity{})
	assert.ErrorIs(t, err, domain.ErrNameTaken)
}

func TestRegisterCleansOrphanedNameIndex(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	// A name index entry pointing at a purged account must not block the name
	require.NoError(t, store.SetNameIndex(ctx, "GhostName", "deleted-account"))

	acct, err := r.Register(ctx, "GhostName", domain.ProviderTwitch, "tw-9", domain.ProviderIdentity{})
	require.NoError(t, err)
	assert.Equal(t, "GhostName", acct.Name)

	id, err := store.NameIndex(ctx, "GhostName")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, id)
}

func TestRegisterDropsStaleNameIndex(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	// Index points at a live account that renamed away; the entry is stale
	holder, err := r.Register(ctx, "OldName", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	require.NoError(t, err)
	holder.Name = "NewName"
	require.NoError(t, store.SaveAccount(ctx, holder))

	acct, err := r.Register(ctx, "OldName", domain.ProviderDiscord, "dc-2", domain.ProviderIdentity{})
	require.NoError(t, err)
	assert.Equal(t, "OldName", acct.Name)
}

func TestReclaimDisplacesHolder(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	squatter, err := r.Register(ctx, "PartneredStreamer", domain.ProviderDiscord, "dc-1", domain.ProviderIdentity{})
	require.NoError(t, err)

	// Allow-listed claimant takes the name back
	acct, err := r.Register(ctx, "PartneredStreamer", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{
		Login: "partneredstreamer",
	})
	require.NoError(t, err)
	assert.NotEqual(t, squatter.ID, acct.ID)

	// The displaced holder keeps its account but loses the chosen name
	displaced, err := store.Account(ctx, squatter.ID)
	require.NoError(t, err)
	assert.False(t, displaced.NameChosen)
	assert.Equal(t, "", displaced.PublicName())

	id, err := store.NameIndex(ctx, "PartneredStreamer")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, id)
}

func TestReclaimWithLegacyEvidence(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	_, err := r.Register(ctx, "Veteran", domain.ProviderDiscord, "dc-1", domain.ProviderIdentity{})
	require.NoError(t, err)

	require.NoError(t, store.SaveLegacyRecord(ctx, domain.ProviderTwitch, "tw-7", &domain.LegacyRecord{
		ProviderID:   "tw-7",
		Login:        "Veteran",
		XP:           12000,
		Level:        16,
		HighestLevel: 22,
		Stats:        map[string]int64{"kills": 340},
	}))

	acct, err := r.Register(ctx, "Veteran", domain.ProviderTwitch, "tw-7", domain.ProviderIdentity{Login: "Veteran"})
	require.NoError(t, err)

	// Archived progression carries in rather than starting at the floor
	assert.Equal(t, int64(12000), acct.XP)
	assert.Equal(t, int64(16), acct.Level)
	assert.Equal(t, int64(22), acct.HighestLevel)
	assert.True(t, acct.Unlocks["insurance"])
	assert.True(t, acct.NameChosen)

	_, err = store.LegacyRecord(ctx, domain.ProviderTwitch, "tw-7")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestResolveMigratesLegacyRecord(t *testing.T) {
	ctx := context.Background()
	r, store, clock := newTestResolver(t)

	require.NoError(t, store.SaveLegacyRecord(ctx, domain.ProviderTwitch, "tw-5", &domain.LegacyRecord{
		ProviderID:   "tw-5",
		Login:        "oldtimer",
		Email:        "old@example.com",
		XP:           3000,
		Level:        8,
		HighestLevel: 11,
		Stats:        map[string]int64{"wins": 40},
	}))

	res, err := r.Resolve(ctx, domain.ProviderTwitch, "tw-5", "")
	require.NoError(t, err)
	require.True(t, res.Exists)
	// Migrated names are provider-sourced, not chosen, so they stay private
	assert.Equal(t, "", res.DisplayName)

	acct, err := store.Account(ctx, res.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeasonTag(clock.now), acct.Season)
	assert.Equal(t, int64(3000), acct.XP)
	assert.Equal(t, int64(11), acct.HighestLevel)
	assert.Equal(t, int64(40), acct.AllTimeStats["wins"])
	assert.False(t, acct.NameChosen)

	// Second resolve goes through the provider index, same account
	res2, err := r.Resolve(ctx, domain.ProviderTwitch, "tw-5", "")
	require.NoError(t, err)
	assert.Equal(t, res.AccountID, res2.AccountID)
}

func TestResolveAutoLinksByEmail(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	acct, err := r.Register(ctx, "NightOwl", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{
		Email: "owl@example.com",
	})
	require.NoError(t, err)

	// Unknown discord identity with a matching email lands on the same account
	res, err := r.Resolve(ctx, domain.ProviderDiscord, "dc-9", "owl@example.com")
	require.NoError(t, err)
	require.True(t, res.Exists)
	assert.Equal(t, acct.ID, res.AccountID)

	linked, err := store.Account(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.LinkFor(domain.ProviderDiscord))
	assert.Equal(t, "dc-9", linked.LinkFor(domain.ProviderDiscord).ProviderID)
}

func TestResolveRepairsLostProviderIndex(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	acct, err := r.Register(ctx, "NightOwl", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	require.NoError(t, err)

	// Simulate index loss; the account itself survives
	require.NoError(t, store.DelProviderIndex(ctx, domain.ProviderTwitch, "tw-1"))

	res, err := r.Resolve(ctx, domain.ProviderTwitch, "tw-1", "")
	require.NoError(t, err)
	require.True(t, res.Exists)
	assert.Equal(t, acct.ID, res.AccountID)

	// The scan repaired the index
	id, err := store.ProviderIndex(ctx, domain.ProviderTwitch, "tw-1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, id)
}

func TestResolveUnknownNeedsRegistration(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	res, err := r.Resolve(ctx, domain.ProviderTwitch, "missing", "")
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.True(t, res.NeedsRegistration)
}

func TestLinkMovesIdentityOnEmailMatch(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t)

	first, err := r.Register(ctx, "First", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{
		Email: "same@example.com",
	})
	require.NoError(t, err)
	second, err := r.Register(ctx, "Second", domain.ProviderDiscord, "dc-1", domain.ProviderIdentity{
		Email: "same@example.com",
	})
	require.NoError(t, err)

	// Same person: the twitch identity moves from first to second
	linked, err := r.Link(ctx, second.ID, domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{Login: "firstlogin"})
	require.NoError(t, err)
	require.NotNil(t, linked.LinkFor(domain.ProviderTwitch))

	released, err := store.Account(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, released.LinkFor(domain.ProviderTwitch))

	id, err := store.ProviderIndex(ctx, domain.ProviderTwitch, "tw-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

func TestLinkRejectsForeignIdentity(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	_, err := r.Register(ctx, "First", domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{
		Email: "first@example.com",
	})
	require.NoError(t, err)
	second, err := r.Register(ctx, "Second", domain.ProviderDiscord, "dc-1", domain.ProviderIdentity{
		Email: "second@example.com",
	})
	require.NoError(t, err)

	_, err = r.Link(ctx, second.ID, domain.ProviderTwitch, "tw-1", domain.ProviderIdentity{})
	assert.ErrorIs(t, err, domain.ErrProviderLinked)
}

func TestMigrateLegacyPure(t *testing.T) {
	t.Parallel()

	rec := &domain.LegacyRecord{
		ProviderID:   "tw-3",
		Login:        "sage",
		XP:           700,
		Level:        4,
		HighestLevel: 3,
		Stats:        map[string]int64{"kills": 9},
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	acct := MigrateLegacy(rec, domain.ProviderTwitch, "2025-06", now)

	// Highest level is the max of archived highest and current level
	assert.Equal(t, int64(4), acct.HighestLevel)
	assert.Equal(t, "2025-06", acct.Season)
	assert.False(t, acct.NameChosen)
	assert.Equal(t, int64(9), acct.Stats["kills"])
	assert.Equal(t, int64(9), acct.AllTimeStats["kills"])

	// Source record is untouched
	assert.Equal(t, int64(3), rec.HighestLevel)
}
