package kv

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

	"github.com/profile-ledger/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.SetJSON(ctx, "k", payload{Name: "x", Count: 3}, 0))

	var got payload
	require.NoError(t, s.GetJSON(ctx, "k", &got))
	assert.Equal(t, payload{Name: "x", Count: 3}, got)

	var missing payload
	assert.ErrorIs(t, s.GetJSON(ctx, "absent", &missing), ErrNotFound)
}

func TestStringOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetString(ctx, "k", "v", 0))
	got, err := s.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.GetString(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSortedSetOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.ZUpsert(ctx, "board", "a", 100))
	require.NoError(t, s.ZUpsert(ctx, "board", "b", 300))
	require.NoError(t, s.ZUpsert(ctx, "board", "c", 200))

	members, err := s.ZRange(ctx, "board", 0, -1, true)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "b", members[0].ID)
	assert.Equal(t, int64(300), members[0].Score)
	assert.Equal(t, "a", members[2].ID)

	rank, err := s.ZRank(ctx, "board", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank)

	score, err := s.ZScore(ctx, "board", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(200), score)

	_, err = s.ZRank(ctx, "board", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	card, err := s.ZCard(ctx, "board")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	require.NoError(t, s.ZRem(ctx, "board", "b"))
	card, err = s.ZCard(ctx, "board")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}

func TestListOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.LPush(ctx, "q", "first"))
	require.NoError(t, s.LPush(ctx, "q", "second"))
	require.NoError(t, s.LPush(ctx, "q", "third"))

	// Oldest element leaves first
	vals, err := s.RPopCount(ctx, "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, vals)

	vals, err = s.RPopCount(ctx, "q", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"third"}, vals)

	vals, err = s.RPopCount(ctx, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestAccountPersistence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	acct := &domain.Account{
		ID:     "acct-1",
		Name:   "NightOwl",
		Season: "2025-06",
		XP:     1200,
		Level:  5,
		Stats:  map[string]int64{"kills": 7},
	}
	require.NoError(t, s.SaveAccount(ctx, acct))

	got, err := s.Account(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, acct.Name, got.Name)
	assert.Equal(t, acct.XP, got.XP)
	assert.Equal(t, int64(7), got.Stats["kills"])

	_, err = s.Account(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	require.NoError(t, s.DeleteAccount(ctx, "acct-1"))
	_, err = s.Account(ctx, "acct-1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestIndexKeysAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetNameIndex(ctx, "NightOwl", "acct-1"))
	id, err := s.NameIndex(ctx, "nightowl")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)

	require.NoError(t, s.SetEmailIndex(ctx, "Owl@Example.com", "acct-1"))
	id, err = s.EmailIndex(ctx, "owl@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	assert.False(t, s.Online(ctx, "acct-1"))
	require.NoError(t, s.TouchPresence(ctx, "acct-1", time.Minute))
	assert.True(t, s.Online(ctx, "acct-1"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, s.Online(ctx, "acct-1"))
}

func TestScanAccounts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveAccount(ctx, &domain.Account{ID: id}))
	}

	var seen []string
	completed, err := s.ScanAccounts(ctx, time.Second, func(acct *domain.Account) (bool, error) {
		seen = append(seen, acct.ID)
		return false, nil
	})
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Len(t, seen, 3)

	// Early termination on a hit
	seen = nil
	_, err = s.ScanAccounts(ctx, time.Second, func(acct *domain.Account) (bool, error) {
		seen = append(seen, acct.ID)
		return true, nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 1)
}
