package leaderboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
)

// Store is the per-season rank index. Entries are derived from the ledger
// and never authoritative: score equals current season XP, member is the
// canonical account id.
type Store struct {
	kv     *kv.Store
	cfg    *config.LeaderboardConfig
	clock  domain.Clock
	logger *slog.Logger
}

// NewStore creates a leaderboard store
func NewStore(store *kv.Store, cfg *config.LeaderboardConfig, clock domain.Clock, logger *slog.Logger) *Store {
	return &Store{kv: store, cfg: cfg, clock: clock, logger: logger}
}

// boardKey returns the sorted set key for a season's rank index
func boardKey(season string) string {
	return fmt.Sprintf("season:%s:board", season)
}

// Upsert writes an account's score into a season's index
func (s *Store) Upsert(ctx context.Context, season, accountID string, score int64) error {
	return s.kv.ZUpsert(ctx, boardKey(season), accountID, score)
}

// Remove deletes an account from a season's index
func (s *Store) Remove(ctx context.Context, season, accountID string) error {
	return s.kv.ZRem(ctx, boardKey(season), accountID)
}

// Cardinality returns the number of ranked accounts in a season
func (s *Store) Cardinality(ctx context.Context, season string) (int64, error) {
	return s.kv.ZCard(ctx, boardKey(season))
}

// RangeByRank returns entries by rank position. Offset is 0-indexed; limit
// is clamped to the configured maximum.
func (s *Store) RangeByRank(ctx context.Context, season string, offset, limit int, descending bool) ([]domain.RankEntry, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	members, err := s.kv.ZRange(ctx, boardKey(season), int64(offset), int64(offset+limit-1), descending)
	if err != nil {
		return nil, fmt.Errorf("ranging season %s: %w", season, err)
	}

	entries := make([]domain.RankEntry, len(members))
	for i, m := range members {
		entries[i] = domain.RankEntry{
			Rank:      int64(offset + i + 1),
			AccountID: m.ID,
			Score:     m.Score,
		}
	}
	return entries, nil
}

// RangeByScore returns entries whose scores fall in [min, max], best first
func (s *Store) RangeByScore(ctx context.Context, season string, min, max int64, limit int) ([]domain.RankEntry, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	members, err := s.kv.ZRangeByScore(ctx, boardKey(season), min, max, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("ranging season %s by score: %w", season, err)
	}

	entries := make([]domain.RankEntry, len(members))
	for i, m := range members {
		entries[i] = domain.RankEntry{
			Rank:      int64(i + 1),
			AccountID: m.ID,
			Score:     m.Score,
		}
	}
	return entries, nil
}

// Rank returns one account's rank and score in a season
func (s *Store) Rank(ctx context.Context, season, accountID string) (*domain.RankEntry, error) {
	key := boardKey(season)
	rank, err := s.kv.ZRank(ctx, key, accountID)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	score, err := s.kv.ZScore(ctx, key, accountID)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &domain.RankEntry{
		Rank:      rank + 1,
		AccountID: accountID,
		Score:     score,
	}, nil
}

// Around returns entries surrounding an account's rank
func (s *Store) Around(ctx context.Context, season, accountID string, count int) ([]domain.RankEntry, error) {
	entry, err := s.Rank(ctx, season, accountID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 5
	}
	start := int(entry.Rank) - count - 1
	if start < 0 {
		start = 0
	}
	return s.RangeByRank(ctx, season, start, 2*count+1, true)
}

// Stats summarizes a season's index
func (s *Store) Stats(ctx context.Context, season string) (*domain.SeasonStats, error) {
	count, err := s.Cardinality(ctx, season)
	if err != nil {
		return nil, err
	}
	stats := &domain.SeasonStats{Season: season, TotalPlayers: count}
	if top, err := s.RangeByRank(ctx, season, 0, 1, true); err == nil && len(top) > 0 {
		stats.TopScore = top[0].Score
	}
	return stats, nil
}

// SnapshotExport returns every entry of a season's index, used before the
// index is cleared
func (s *Store) SnapshotExport(ctx context.Context, season string) ([]domain.SnapshotEntry, error) {
	members, err := s.kv.ZRange(ctx, boardKey(season), 0, -1, true)
	if err != nil {
		return nil, fmt.Errorf("exporting season %s: %w", season, err)
	}
	now := s.clock.Now()
	entries := make([]domain.SnapshotEntry, len(members))
	for i, m := range members {
		entries[i] = domain.SnapshotEntry{
			Season:     season,
			AccountID:  m.ID,
			Score:      m.Score,
			ExportedAt: now,
		}
	}
	return entries, nil
}

// Clear removes a season's index entirely. Callers export a snapshot first.
func (s *Store) Clear(ctx context.Context, season string) error {
	return s.kv.Del(ctx, boardKey(season))
}

// Enrich decorates raw entries with display names and online status. Names
// auto-populated from a provider login are reported as absent; online status
// honors the account's visibility preference. Unreadable accounts degrade to
// a bare entry rather than failing the response.
func (s *Store) Enrich(ctx context.Context, entries []domain.RankEntry) []domain.RankEntry {
	for i := range entries {
		acct, err := s.kv.Account(ctx, entries[i].AccountID)
		if err != nil {
			if !domain.IsNotFound(err) {
				s.logger.Warn("failed to enrich rank entry", "account_id", entries[i].AccountID, "error", err)
			}
			continue
		}
		entries[i].Name = acct.PublicName()
		if acct.AllowsPresence() {
			entries[i].Online = s.kv.Online(ctx, entries[i].AccountID)
		}
	}
	return entries
}
