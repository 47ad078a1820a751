package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeasonTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2025-03", SeasonTag(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-12", SeasonTag(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)))

	// Local timestamps are normalized to UTC before tagging
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, "2025-03", SeasonTag(time.Date(2025, 4, 1, 2, 0, 0, 0, loc)))
}

func TestXPForLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), XPForLevel(1))
	assert.Equal(t, int64(100), XPForLevel(2))
	assert.Equal(t, int64(300), XPForLevel(3))
	assert.Equal(t, int64(600), XPForLevel(4))

	// Each level-up from n costs 100*n
	for l := int64(2); l <= 60; l++ {
		assert.Equal(t, 100*(l-1), XPForLevel(l)-XPForLevel(l-1))
	}
}

func TestLevelForXP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), LevelForXP(0))
	assert.Equal(t, int64(1), LevelForXP(99))
	assert.Equal(t, int64(2), LevelForXP(100))
	assert.Equal(t, int64(2), LevelForXP(299))
	assert.Equal(t, int64(3), LevelForXP(300))
	assert.Equal(t, int64(1), LevelForXP(-50))

	// Inverse of the curve at every boundary
	for l := int64(1); l <= 80; l++ {
		xp := XPForLevel(l)
		assert.Equal(t, l, LevelForXP(xp))
		if l > 1 {
			assert.Equal(t, l-1, LevelForXP(xp-1))
		}
	}
}

func TestUnlocksForLevel(t *testing.T) {
	t.Parallel()

	for _, unlocked := range UnlocksForLevel(4) {
		assert.False(t, unlocked)
	}

	u := UnlocksForLevel(10)
	assert.True(t, u["custom_overlay"])
	assert.True(t, u["prestige_badge"])
	assert.False(t, u["skill_tree"])

	u = UnlocksForLevel(40)
	assert.True(t, u["custom_overlay"])
	assert.True(t, u["prestige_badge"])
	assert.True(t, u["skill_tree"])
	assert.True(t, u["insurance"])
	assert.True(t, u["legend_frame"])
}

func TestAccountPublicName(t *testing.T) {
	t.Parallel()

	a := &Account{Name: "Streamer", NameChosen: true}
	assert.Equal(t, "Streamer", a.PublicName())

	// Migrated or provider-derived names stay private until chosen
	a.NameChosen = false
	assert.Equal(t, "", a.PublicName())
}

func TestAccountAddClampRing(t *testing.T) {
	t.Parallel()

	a := &Account{}
	for i := 0; i < AuditLogCap+10; i++ {
		a.AddClamp(ClampEvent{Kind: "xp_clamp", Timestamp: time.Unix(int64(i), 0)})
	}
	assert.Len(t, a.AuditLog, AuditLogCap)
	// Oldest entries rotate out
	assert.Equal(t, time.Unix(10, 0), a.AuditLog[0].Timestamp)
}
