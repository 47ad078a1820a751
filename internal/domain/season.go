package domain

import "time"

// Clock supplies UTC wall-clock time. Injected everywhere so season
// boundaries and freshness windows are testable.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock
type RealClock struct{}

// Now returns the current UTC time
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Season floor values applied at rollover
const (
	SeasonFloorLevel int64 = 1
	SeasonFloorXP    int64 = 0
)

// SeasonTag returns the season identifier for a point in time. One season is
// one calendar month, UTC.
func SeasonTag(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// XPForLevel returns the cumulative XP required to hold a level. Level 1 is
// free; each level-up from level n costs 100*n XP, so the cumulative cost of
// level L is 50*L*(L-1).
func XPForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	return 50 * level * (level - 1)
}

// LevelForXP inverts the level curve: the highest level whose cumulative
// requirement is covered by xp.
func LevelForXP(xp int64) int64 {
	if xp <= 0 {
		return 1
	}
	level := int64(1)
	for XPForLevel(level+1) <= xp {
		level++
	}
	return level
}

// Feature unlock thresholds over highest level ever. Unlocks are derived,
// never revoked.
var unlockThresholds = map[string]int64{
	"custom_overlay": 5,
	"prestige_badge": 10,
	"skill_tree":     15,
	"insurance":      20,
	"legend_frame":   40,
}

// UnlocksForLevel returns the feature unlock flags implied by a highest level
func UnlocksForLevel(highest int64) map[string]bool {
	unlocks := make(map[string]bool, len(unlockThresholds))
	for feature, threshold := range unlockThresholds {
		unlocks[feature] = highest >= threshold
	}
	return unlocks
}
