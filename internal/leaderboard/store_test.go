package leaderboard

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

func newTestStore(t *testing.T) (*Store, *kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewWithClient(client, logger)

	cfg := &config.LeaderboardConfig{
		DefaultLimit:   100,
		MaxLimit:       1000,
		PresenceWindow: time.Minute,
	}
	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	return NewStore(store, cfg, clock, logger), store
}

func seedBoard(t *testing.T, s *Store, season string) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []struct {
		id    string
		score int64
	}{
		{"p1", 5000}, {"p2", 4000}, {"p3", 3000}, {"p4", 2000}, {"p5", 1000},
	} {
		require.NoError(t, s.Upsert(ctx, season, e.id, e.score))
	}
}

func TestRangeByRank(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedBoard(t, s, "2025-06")

	entries, err := s.RangeByRank(ctx, "2025-06", 0, 3, true)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "p1", entries[0].AccountID)
	assert.Equal(t, int64(1), entries[0].Rank)
	assert.Equal(t, int64(5000), entries[0].Score)
	assert.Equal(t, "p3", entries[2].AccountID)

	// Offset shifts the reported ranks accordingly
	entries, err = s.RangeByRank(ctx, "2025-06", 2, 2, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p3", entries[0].AccountID)
	assert.Equal(t, int64(3), entries[0].Rank)

	// Ascending order flips the listing
	entries, err = s.RangeByRank(ctx, "2025-06", 0, 1, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p5", entries[0].AccountID)
}

func TestRangeByScore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedBoard(t, s, "2025-06")

	entries, err := s.RangeByScore(ctx, "2025-06", 2000, 4000, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "p2", entries[0].AccountID)
	assert.Equal(t, "p4", entries[2].AccountID)
}

func TestRankAndAround(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedBoard(t, s, "2025-06")

	entry, err := s.Rank(ctx, "2025-06", "p3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Rank)
	assert.Equal(t, int64(3000), entry.Score)

	_, err = s.Rank(ctx, "2025-06", "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	around, err := s.Around(ctx, "2025-06", "p3", 1)
	require.NoError(t, err)
	require.Len(t, around, 3)
	assert.Equal(t, "p2", around[0].AccountID)
	assert.Equal(t, "p4", around[2].AccountID)
}

func TestSeasonsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedBoard(t, s, "2025-05")

	count, err := s.Cardinality(ctx, "2025-05")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	count, err = s.Cardinality(ctx, "2025-06")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = s.Rank(ctx, "2025-06", "p1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSnapshotExportAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedBoard(t, s, "2025-05")

	entries, err := s.SnapshotExport(ctx, "2025-05")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "2025-05", entries[0].Season)
	assert.Equal(t, "p1", entries[0].AccountID)
	assert.Equal(t, int64(5000), entries[0].Score)

	require.NoError(t, s.Clear(ctx, "2025-05"))
	count, err := s.Cardinality(ctx, "2025-05")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)
	seedBoard(t, s, "2025-06")

	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		ID: "p1", Name: "Champ", NameChosen: true,
	}))
	// Provider-sourced name stays private
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		ID: "p2", Name: "autologin", NameChosen: false,
	}))
	// Hidden visibility suppresses presence even when online
	require.NoError(t, store.SaveAccount(ctx, &domain.Account{
		ID: "p3", Name: "Lurker", NameChosen: true, Visibility: "hidden",
	}))
	require.NoError(t, store.TouchPresence(ctx, "p1", time.Minute))
	require.NoError(t, store.TouchPresence(ctx, "p3", time.Minute))

	entries, err := s.RangeByRank(ctx, "2025-06", 0, 5, true)
	require.NoError(t, err)
	enriched := s.Enrich(ctx, entries)
	require.Len(t, enriched, 5)

	assert.Equal(t, "Champ", enriched[0].Name)
	assert.True(t, enriched[0].Online)

	assert.Equal(t, "", enriched[1].Name)
	assert.Equal(t, "Lurker", enriched[2].Name)
	assert.False(t, enriched[2].Online)

	// Accounts missing entirely degrade to a bare entry
	assert.Equal(t, "", enriched[3].Name)
	assert.False(t, enriched[3].Online)
}
