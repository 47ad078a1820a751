package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/kv"
	"github.com/profile-ledger/internal/leaderboard"
)

// anomalyQueueKey buffers clamp events for the archive worker
const anomalyQueueKey = "anticheat:queue"

// anomalyQueueCap bounds the buffered queue; the oldest entries are dropped
// when the archive worker falls behind
const anomalyQueueCap = 10000

// Broadcaster pushes live rank updates to connected clients
type Broadcaster interface {
	BroadcastSeasonUpdate(season string, entries []domain.RankEntry, totalPlayers int64)
	BroadcastRankUpdate(season string, entry domain.RankEntry)
}

// Service owns the canonical account record: it applies season rollovers
// lazily, merges client-submitted deltas under the monotonic ratchet, and
// keeps the per-season rank index in step with the ledger.
type Service struct {
	kv        *kv.Store
	boards    *leaderboard.Store
	validator *anticheat.Validator
	cfg       *config.ProgressionConfig
	lbCfg     *config.LeaderboardConfig
	clock     domain.Clock
	hub       Broadcaster
	archive   SnapshotSink
	logger    *slog.Logger
}

// NewService creates a ledger service
func NewService(
	store *kv.Store,
	boards *leaderboard.Store,
	validator *anticheat.Validator,
	cfg *config.ProgressionConfig,
	lbCfg *config.LeaderboardConfig,
	clock domain.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		kv:        store,
		boards:    boards,
		validator: validator,
		cfg:       cfg,
		lbCfg:     lbCfg,
		clock:     clock,
		logger:    logger,
	}
}

// SetHub attaches the broadcast hub for live updates
func (s *Service) SetHub(hub Broadcaster) {
	s.hub = hub
}

// Snapshot returns the canonical view of an account
func (s *Service) Snapshot(ctx context.Context, accountID string) (*domain.Snapshot, error) {
	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(acct), nil
}

// Sync reconciles a client-submitted progression delta against server truth.
// Merge functions are commutative and max-based so overlapping concurrent
// syncs converge instead of regressing.
func (s *Service) Sync(ctx context.Context, sub domain.SyncSubmission, signed bool) (*domain.Snapshot, error) {
	acct, err := s.kv.Account(ctx, sub.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	season := domain.SeasonTag(now)

	// Lazy season rollover at first touch past the boundary. Comparing
	// stored tag to the computed tag keeps retries idempotent and handles
	// accounts returning after multiple missed seasons in one application.
	if acct.Season != season {
		if err := s.rollover(ctx, acct, season); err != nil {
			return nil, fmt.Errorf("season rollover: %w", err)
		}
	}

	// While a reset is pending, decide whether the client has adopted the
	// new-season floor. If it still reports pre-reset values the server
	// stays authoritative and the flag is re-signalled.
	if acct.ResetAt != nil {
		if !s.resetAcknowledged(sub, acct) {
			acct.LastSyncAt = now
			acct.UpdatedAt = now
			if err := s.commit(ctx, acct); err != nil {
				return nil, err
			}
			return s.snapshot(acct), nil
		}
		acct.ResetAt = nil
		acct.PreResetXP = 0
		acct.PreResetLevel = 0
	}

	res := s.validator.Validate(acct, sub, now, signed)
	for _, ev := range res.Events {
		acct.AddClamp(ev)
		s.queueAnomaly(ctx, acct.ID, ev)
	}
	if res.Sample != nil {
		acct.AddRateSample(*res.Sample)
	}

	s.merge(acct, sub, res)

	acct.LastSyncAt = now
	acct.UpdatedAt = now
	if err := s.commit(ctx, acct); err != nil {
		return nil, err
	}

	if err := s.kv.TouchPresence(ctx, acct.ID, s.lbCfg.PresenceWindow); err != nil {
		s.logger.Warn("failed to touch presence", "account_id", acct.ID, "error", err)
	}

	s.broadcast(ctx, acct)

	return s.snapshot(acct), nil
}

// rollover archives the season that just ended and resets seasonal
// progression to the floor
func (s *Service) rollover(ctx context.Context, acct *domain.Account, season string) error {
	now := s.clock.Now()
	oldSeason := acct.Season

	// Archive season stats into the all-time accumulator by per-key addition
	if acct.AllTimeStats == nil {
		acct.AllTimeStats = make(map[string]int64, len(acct.Stats))
	}
	for k, v := range acct.Stats {
		acct.AllTimeStats[k] += v
	}

	if acct.Level > acct.HighestLevel {
		acct.HighestLevel = acct.Level
	}
	acct.Unlocks = domain.UnlocksForLevel(acct.HighestLevel)

	acct.PreResetXP = acct.XP
	acct.PreResetLevel = acct.Level
	acct.ResetAt = &now

	acct.XP = domain.SeasonFloorXP
	acct.Level = domain.SeasonFloorLevel
	acct.Stats = make(map[string]int64)
	acct.Skills = nil
	acct.SkillPoints = domain.SeasonFloorLevel
	acct.ForcedStats = nil
	acct.InsuranceAt = nil
	acct.Season = season

	// Move the account between season rank indexes. Neither write is
	// transactional with the record; the indexes self-correct on the next
	// sync if either one is lost.
	if oldSeason != "" {
		if err := s.boards.Remove(ctx, oldSeason, acct.ID); err != nil {
			s.logger.Warn("failed to drop old season rank", "account_id", acct.ID, "season", oldSeason, "error", err)
		}
	}
	if err := s.boards.Upsert(ctx, season, acct.ID, acct.XP); err != nil {
		s.logger.Warn("failed to seed new season rank", "account_id", acct.ID, "season", season, "error", err)
	}

	s.logger.Info("season rollover applied",
		"account_id", acct.ID, "from", oldSeason, "to", season,
		"highest_level", acct.HighestLevel)
	return nil
}

// resetAcknowledged decides whether a submission reflects the new-season
// floor rather than pre-reset values: the level must sit within the
// configured slack of the floor and the xp clearly below the pre-reset
// balance. Ambiguous submissions keep the server authoritative; the check
// converges once the client adopts server truth.
func (s *Service) resetAcknowledged(sub domain.SyncSubmission, acct *domain.Account) bool {
	if sub.Level > domain.SeasonFloorLevel+s.cfg.ResetAckLevelSlack {
		return false
	}
	if acct.PreResetXP > 0 && sub.XP >= acct.PreResetXP/s.cfg.ResetAckXPDivisor {
		return false
	}
	return true
}

// merge folds the validated submission into the account under the monotonic
// ratchet
func (s *Service) merge(acct *domain.Account, sub domain.SyncSubmission, res anticheat.Result) {
	serverSkillCount := len(acct.Skills)

	// xp/level ratchet
	if res.XP > acct.XP {
		acct.XP = res.XP
	}
	if res.Level > acct.Level {
		acct.Level = res.Level
	}

	// Achievements set-union
	acct.Achievements = unionSorted(acct.Achievements, sub.Achievements)

	// Stats merge per-key by max. Keys under an active force override ignore
	// client values until the client resends the clear signal.
	if sub.ClearForced {
		acct.ForcedStats = nil
	}
	if acct.Stats == nil {
		acct.Stats = make(map[string]int64, len(res.Stats))
	}
	for k, v := range res.Stats {
		if _, forced := acct.ForcedStats[k]; forced {
			continue
		}
		if v > acct.Stats[k] {
			acct.Stats[k] = v
		}
	}

	// Unlocks derive from highest level ever and are never revoked
	if acct.Level > acct.HighestLevel {
		acct.HighestLevel = acct.Level
	}
	acct.Unlocks = domain.UnlocksForLevel(acct.HighestLevel)

	// Skill-point reconciliation
	clientSkillCount := len(sub.Skills)
	switch {
	case clientSkillCount > serverSkillCount:
		// More unlocked skills client-side proves a legitimate spend, so the
		// client's lower balance is trusted
		acct.Skills = unionSorted(acct.Skills, sub.Skills)
		acct.SkillPoints = normalizePoints(sub.SkillPoints)
	case clientSkillCount == serverSkillCount:
		// Higher balance wins: preserves administrative corrections while
		// allowing level-up gains
		if pts := normalizePoints(sub.SkillPoints); pts > acct.SkillPoints {
			acct.SkillPoints = pts
		}
	}
	if len(acct.Skills) == 0 && acct.SkillPoints < acct.Level {
		// Recovers corrupted or stale clients that lost their balance
		acct.SkillPoints = acct.Level
	}
}

// commit persists the record and mirrors the score into the current season's
// rank index
func (s *Service) commit(ctx context.Context, acct *domain.Account) error {
	if err := s.kv.SaveAccount(ctx, acct); err != nil {
		return err
	}
	if err := s.boards.Upsert(ctx, acct.Season, acct.ID, acct.XP); err != nil {
		s.logger.Warn("failed to update rank index", "account_id", acct.ID, "error", err)
	}
	return nil
}

// RecordBadSignature notes a failed submission signature against the
// account's audit log and the anomaly queue. Unknown accounts are queued
// without an audit entry.
func (s *Service) RecordBadSignature(ctx context.Context, accountID string) {
	ev := domain.ClampEvent{
		Kind:      anticheat.ClampBadSignature,
		Field:     "signature",
		Timestamp: s.clock.Now(),
	}
	s.queueAnomaly(ctx, accountID, ev)

	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return
	}
	acct.AddClamp(ev)
	if err := s.kv.SaveAccount(ctx, acct); err != nil {
		s.logger.Warn("failed to record bad signature", "account_id", accountID, "error", err)
	}
}

// queueAnomaly buffers a clamp event for the archive worker. Best effort.
func (s *Service) queueAnomaly(ctx context.Context, accountID string, ev domain.ClampEvent) {
	data, err := json.Marshal(domain.AnomalyRecord{AccountID: accountID, ClampEvent: ev})
	if err != nil {
		return
	}
	if err := s.kv.LPush(ctx, anomalyQueueKey, data); err != nil {
		s.logger.Warn("failed to queue anomaly event", "account_id", accountID, "error", err)
		return
	}
	if err := s.kv.LTrim(ctx, anomalyQueueKey, 0, anomalyQueueCap-1); err != nil {
		s.logger.Warn("failed to trim anomaly queue", "error", err)
	}
}

func (s *Service) broadcast(ctx context.Context, acct *domain.Account) {
	if s.hub == nil || !s.lbCfg.BroadcastOnSync {
		return
	}
	if entry, err := s.boards.Rank(ctx, acct.Season, acct.ID); err == nil {
		entry.Name = acct.PublicName()
		s.hub.BroadcastRankUpdate(acct.Season, *entry)
	}
	entries, err := s.boards.RangeByRank(ctx, acct.Season, 0, s.lbCfg.BroadcastTopN, true)
	if err != nil {
		return
	}
	total, _ := s.boards.Cardinality(ctx, acct.Season)
	s.hub.BroadcastSeasonUpdate(acct.Season, s.boards.Enrich(ctx, entries), total)
}

func (s *Service) snapshot(acct *domain.Account) *domain.Snapshot {
	return &domain.Snapshot{
		AccountID:    acct.ID,
		Name:         acct.PublicName(),
		Season:       acct.Season,
		XP:           acct.XP,
		Level:        acct.Level,
		Stats:        acct.Stats,
		Achievements: acct.Achievements,
		SkillPoints:  acct.SkillPoints,
		Skills:       acct.Skills,
		HighestLevel: acct.HighestLevel,
		Unlocks:      acct.Unlocks,
		Flags: domain.SyncFlags{
			ResetPending:   acct.ResetAt != nil,
			OverrideActive: len(acct.ForcedStats) > 0,
			InsuranceUsed:  acct.InsuranceAt != nil,
		},
		UpdatedAt: acct.UpdatedAt,
	}
}

// unionSorted merges two string sets into a sorted slice without duplicates
func unionSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizePoints(pts int64) int64 {
	if pts < 0 {
		return 0
	}
	return pts
}
