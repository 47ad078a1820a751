package ledger

import (
	"context"
	"fmt"

	"github.com/profile-ledger/internal/domain"
)

// SnapshotSink receives exported season snapshots before an index is cleared
// and keeps tombstones for purged accounts
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, entries []domain.SnapshotEntry) error
	RecordTombstone(ctx context.Context, accountID, displayName string) error
}

// SetArchive attaches the durable snapshot sink used by ResetSeason
func (s *Service) SetArchive(sink SnapshotSink) {
	s.archive = sink
}

// Insurance applies a user-invocable signed XP debit that corrects a stuck
// quest state. Rate limited to one per season and gated on the insurance
// feature unlock. The debited level follows the canonical curve; this is the
// one non-administrative path where seasonal xp may decrease.
func (s *Service) Insurance(ctx context.Context, accountID string, debit int64) (*domain.Snapshot, error) {
	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if debit <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if !acct.Unlocks["insurance"] {
		return nil, domain.ErrInsuranceLocked
	}
	now := s.clock.Now()
	if acct.InsuranceAt != nil && domain.SeasonTag(*acct.InsuranceAt) == domain.SeasonTag(now) {
		return nil, domain.ErrInsuranceUsed
	}

	if debit > s.cfg.InsuranceMaxDebit {
		debit = s.cfg.InsuranceMaxDebit
	}
	if debit > acct.XP {
		debit = acct.XP
	}

	before := acct.XP
	acct.XP -= debit
	acct.Level = domain.LevelForXP(acct.XP)
	acct.InsuranceAt = &now
	acct.UpdatedAt = now
	acct.AddClamp(domain.ClampEvent{
		Kind:      "insurance_debit",
		Submitted: before,
		Accepted:  acct.XP,
		Timestamp: now,
	})

	if err := s.commit(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.Info("insurance debit applied", "account_id", acct.ID, "debit", debit)
	return s.snapshot(acct), nil
}

// ForceOverride pins stat keys to administrative values. The pinned keys
// ignore client submissions until the client acknowledges by sending the
// clear signal on a sync.
func (s *Service) ForceOverride(ctx context.Context, accountID string, stats map[string]int64) (*domain.Snapshot, error) {
	if len(stats) == 0 {
		return nil, domain.ErrInvalidRequest
	}
	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if acct.ForcedStats == nil {
		acct.ForcedStats = make(map[string]int64, len(stats))
	}
	if acct.Stats == nil {
		acct.Stats = make(map[string]int64, len(stats))
	}
	for k, v := range stats {
		acct.ForcedStats[k] = v
		acct.Stats[k] = v
	}
	acct.UpdatedAt = s.clock.Now()

	if err := s.commit(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.Info("stat override forced", "account_id", acct.ID, "keys", len(stats))
	return s.snapshot(acct), nil
}

// OverrideProgress sets xp and level directly, bypassing the ratchet. Level
// zero means derive it from xp.
func (s *Service) OverrideProgress(ctx context.Context, accountID string, xp, level int64) (*domain.Snapshot, error) {
	if xp < 0 {
		return nil, domain.ErrInvalidRequest
	}
	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	acct.XP = xp
	if level > 0 {
		acct.Level = level
	} else {
		acct.Level = domain.LevelForXP(xp)
	}
	if acct.Level > acct.HighestLevel {
		acct.HighestLevel = acct.Level
		acct.Unlocks = domain.UnlocksForLevel(acct.HighestLevel)
	}
	acct.UpdatedAt = s.clock.Now()

	if err := s.commit(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.Info("progress override applied", "account_id", acct.ID, "xp", xp, "level", acct.Level)
	return s.snapshot(acct), nil
}

// MergeReport describes an account merge, executed or planned
type MergeReport struct {
	FromID   string           `json:"from_id"`
	IntoID   string           `json:"into_id"`
	DryRun   bool             `json:"dry_run"`
	Links    int              `json:"links_moved"`
	Removed  []string         `json:"removed_keys,omitempty"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}

// Merge folds one account into another: provider links move over, seasonal
// and permanent progression merge by max, stats by per-key max, all-time
// stats by addition, and every index is repointed. Defaults to dry-run; a
// real merge requires confirmation.
func (s *Service) Merge(ctx context.Context, fromID, intoID string, dryRun, confirmed bool) (*MergeReport, error) {
	if fromID == "" || intoID == "" || fromID == intoID {
		return nil, domain.ErrInvalidRequest
	}
	if !dryRun && !confirmed {
		return nil, domain.ErrConfirmRequired
	}

	from, err := s.kv.Account(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("loading source account: %w", err)
	}
	into, err := s.kv.Account(ctx, intoID)
	if err != nil {
		return nil, fmt.Errorf("loading target account: %w", err)
	}

	report := &MergeReport{FromID: fromID, IntoID: intoID, DryRun: dryRun, Links: len(from.Links)}
	if dryRun {
		return report, nil
	}

	// Stale ledgers are rolled over first so a source idle since a previous
	// season archives its seasonal progression instead of folding it into
	// the target's current season.
	season := domain.SeasonTag(s.clock.Now())
	if from.Season != season {
		if err := s.rollover(ctx, from, season); err != nil {
			return nil, fmt.Errorf("season rollover: %w", err)
		}
		if err := s.commit(ctx, from); err != nil {
			return nil, err
		}
	}
	if into.Season != season {
		if err := s.rollover(ctx, into, season); err != nil {
			return nil, fmt.Errorf("season rollover: %w", err)
		}
	}

	for _, link := range from.Links {
		if into.LinkFor(link.Kind) == nil {
			into.Links = append(into.Links, link)
		}
		if err := s.kv.SetProviderIndex(ctx, link.Kind, link.ProviderID, into.ID); err != nil {
			s.logger.Warn("failed to repoint provider index", "kind", link.Kind, "error", err)
		}
	}

	if from.XP > into.XP {
		into.XP = from.XP
	}
	if from.Level > into.Level {
		into.Level = from.Level
	}
	if from.HighestLevel > into.HighestLevel {
		into.HighestLevel = from.HighestLevel
	}
	into.Unlocks = domain.UnlocksForLevel(into.HighestLevel)
	into.Achievements = unionSorted(into.Achievements, from.Achievements)
	if into.Stats == nil {
		into.Stats = make(map[string]int64, len(from.Stats))
	}
	for k, v := range from.Stats {
		if v > into.Stats[k] {
			into.Stats[k] = v
		}
	}
	if into.AllTimeStats == nil {
		into.AllTimeStats = make(map[string]int64, len(from.AllTimeStats))
	}
	for k, v := range from.AllTimeStats {
		into.AllTimeStats[k] += v
	}
	if from.SkillPoints > into.SkillPoints {
		into.SkillPoints = from.SkillPoints
	}
	into.Skills = unionSorted(into.Skills, from.Skills)
	if from.Email != "" && into.Email == "" {
		into.Email = from.Email
		if err := s.kv.SetEmailIndex(ctx, into.Email, into.ID); err != nil {
			s.logger.Warn("failed to repoint email index", "error", err)
		}
	}
	into.UpdatedAt = s.clock.Now()

	if err := s.commit(ctx, into); err != nil {
		return nil, err
	}

	// Tear down the absorbed account last so a crash mid-merge leaves both
	// records resolvable rather than neither
	purge, err := s.Purge(ctx, fromID, false, true)
	if err != nil {
		return nil, fmt.Errorf("purging merged account: %w", err)
	}
	report.Removed = purge.Removed
	report.Snapshot = s.snapshot(into)

	s.logger.Info("accounts merged", "from", fromID, "into", intoID)
	return report, nil
}

// PurgeReport lists what a purge removed or would remove
type PurgeReport struct {
	AccountID string   `json:"account_id"`
	DryRun    bool     `json:"dry_run"`
	Removed   []string `json:"removed,omitempty"`
}

// Purge removes an account and every index pointing to it. Defaults to
// dry-run; destruction requires confirmation.
func (s *Service) Purge(ctx context.Context, accountID string, dryRun, confirmed bool) (*PurgeReport, error) {
	if !dryRun && !confirmed {
		return nil, domain.ErrConfirmRequired
	}

	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &PurgeReport{AccountID: accountID, DryRun: dryRun}
	report.Removed = append(report.Removed, "account")
	for _, link := range acct.Links {
		report.Removed = append(report.Removed, fmt.Sprintf("provider:%s:%s", link.Kind, link.ProviderID))
	}
	if acct.Email != "" {
		report.Removed = append(report.Removed, "email:"+acct.Email)
	}
	if acct.NameChosen {
		report.Removed = append(report.Removed, "name:"+acct.Name)
	}
	report.Removed = append(report.Removed, "rank:"+acct.Season)

	if dryRun {
		return report, nil
	}

	// Index entries repointed elsewhere (by a merge) must survive the purge,
	// so each one is checked before deletion.
	for _, link := range acct.Links {
		id, err := s.kv.ProviderIndex(ctx, link.Kind, link.ProviderID)
		if err == nil && id != accountID {
			continue
		}
		if err := s.kv.DelProviderIndex(ctx, link.Kind, link.ProviderID); err != nil {
			s.logger.Warn("failed to remove provider index", "kind", link.Kind, "error", err)
		}
	}
	if acct.Email != "" {
		id, err := s.kv.EmailIndex(ctx, acct.Email)
		if err != nil || id == accountID {
			if err := s.kv.DelEmailIndex(ctx, acct.Email); err != nil {
				s.logger.Warn("failed to remove email index", "error", err)
			}
		}
	}
	if acct.NameChosen {
		id, err := s.kv.NameIndex(ctx, acct.Name)
		if err != nil || id == accountID {
			if err := s.kv.DelNameIndex(ctx, acct.Name); err != nil {
				s.logger.Warn("failed to remove name index", "error", err)
			}
		}
	}
	if err := s.boards.Remove(ctx, acct.Season, acct.ID); err != nil {
		s.logger.Warn("failed to remove rank entry", "error", err)
	}
	if err := s.kv.DeleteAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("deleting account: %w", err)
	}
	if s.archive != nil {
		if err := s.archive.RecordTombstone(ctx, accountID, acct.Name); err != nil {
			s.logger.Warn("failed to record purge tombstone", "error", err)
		}
	}

	s.logger.Info("account purged", "account_id", accountID)
	return report, nil
}

// ResetSeason exports a season's rank index to the archive and clears it.
// Defaults to dry-run; clearing requires confirmation and a configured
// archive sink.
func (s *Service) ResetSeason(ctx context.Context, season string, dryRun, confirmed bool) (int, error) {
	if season == "" {
		return 0, domain.ErrInvalidRequest
	}
	if !dryRun && !confirmed {
		return 0, domain.ErrConfirmRequired
	}

	entries, err := s.boards.SnapshotExport(ctx, season)
	if err != nil {
		return 0, err
	}
	if dryRun {
		return len(entries), nil
	}

	if s.archive != nil && len(entries) > 0 {
		if err := s.archive.SaveSnapshot(ctx, entries); err != nil {
			return 0, fmt.Errorf("archiving season snapshot: %w", err)
		}
	}
	if err := s.boards.Clear(ctx, season); err != nil {
		return 0, err
	}

	s.logger.Info("season index cleared", "season", season, "entries", len(entries))
	return len(entries), nil
}

// AuditLog returns the account's bounded anti-cheat audit trail
func (s *Service) AuditLog(ctx context.Context, accountID string) ([]domain.ClampEvent, error) {
	acct, err := s.kv.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return acct.AuditLog, nil
}
