package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/profile-ledger/internal/domain"
)

// MigrateLegacy converts a pre-unification single-provider record into a
// canonical account. Pure function: invoked lazily on first resolution,
// never as a batch job. Seasonal progression carries over into the current
// season so a returning player keeps what they earned; the display name
// stays marked as provider-sourced until the user explicitly confirms it.
func MigrateLegacy(rec *domain.LegacyRecord, kind domain.ProviderKind, season string, now time.Time) *domain.Account {
	highest := rec.HighestLevel
	if rec.Level > highest {
		highest = rec.Level
	}

	stats := make(map[string]int64, len(rec.Stats))
	allTime := make(map[string]int64, len(rec.Stats))
	for k, v := range rec.Stats {
		stats[k] = v
		allTime[k] = v
	}

	return &domain.Account{
		ID:         uuid.New().String(),
		Name:       rec.Login,
		NameChosen: false,
		Email:      rec.Email,
		Links: []domain.ProviderLink{{
			Kind:       kind,
			ProviderID: rec.ProviderID,
			Login:      rec.Login,
			LinkedAt:   now,
		}},
		Season:       season,
		XP:           rec.XP,
		Level:        rec.Level,
		Stats:        stats,
		Achievements: append([]string(nil), rec.Achievements...),
		HighestLevel: highest,
		Unlocks:      domain.UnlocksForLevel(highest),
		AllTimeStats: allTime,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    now,
	}
}

// scanCache is a short-lived process-local cache fronting the full-keyspace
// scans used by the legacy fallback path. Staleness is accepted; it is never
// relied on for correctness.
type scanCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]scanCacheEntry
}

type scanCacheEntry struct {
	accountID string
	at        time.Time
}

func newScanCache(ttl time.Duration) *scanCache {
	return &scanCache{ttl: ttl, entries: make(map[string]scanCacheEntry)}
}

func (c *scanCache) get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.at) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.accountID, true
}

func (c *scanCache) put(key, accountID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = scanCacheEntry{accountID: accountID, at: now}
}
