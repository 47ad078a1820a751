package domain

import "time"

// SyncSubmission is a client-reported progression delta
type SyncSubmission struct {
	AccountID    string           `json:"account_id"`
	XP           int64            `json:"xp"`
	Level        int64            `json:"level"`
	Stats        map[string]int64 `json:"stats,omitempty"`
	Achievements []string         `json:"achievements,omitempty"`
	SkillPoints  int64            `json:"skill_points"`
	Skills       []string         `json:"skills,omitempty"`

	// ClearForced echoes an administrative override back to the server,
	// signalling the client has adopted the forced values.
	ClearForced bool `json:"clear_forced,omitempty"`

	// Optional request signature material
	Signature string `json:"signature,omitempty"`
	SignedAt  int64  `json:"signed_at,omitempty"`
}

// SyncFlags are the pending conditions a caller must acknowledge on a
// subsequent sync before they clear
type SyncFlags struct {
	ResetPending   bool `json:"reset_pending"`
	OverrideActive bool `json:"override_active"`
	InsuranceUsed  bool `json:"insurance_used"`
}

// Snapshot is the canonical view of an account returned by ledger operations
type Snapshot struct {
	AccountID    string           `json:"account_id"`
	Name         string           `json:"name,omitempty"`
	Season       string           `json:"season"`
	XP           int64            `json:"xp"`
	Level        int64            `json:"level"`
	Stats        map[string]int64 `json:"stats,omitempty"`
	Achievements []string         `json:"achievements,omitempty"`
	SkillPoints  int64            `json:"skill_points"`
	Skills       []string         `json:"skills,omitempty"`
	HighestLevel int64            `json:"highest_level"`
	Unlocks      map[string]bool  `json:"unlocks,omitempty"`
	Flags        SyncFlags        `json:"flags"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// RankEntry is a single leaderboard row. Name is omitted when the account
// never explicitly chose a display name.
type RankEntry struct {
	Rank      int64  `json:"rank"`
	AccountID string `json:"account_id"`
	Score     int64  `json:"score"`
	Name      string `json:"name,omitempty"`
	Online    bool   `json:"online"`
}

// SeasonStats summarizes one season's rank index
type SeasonStats struct {
	Season       string `json:"season"`
	TotalPlayers int64  `json:"total_players"`
	TopScore     int64  `json:"top_score,omitempty"`
}

// SnapshotEntry is one exported leaderboard row, written to the archive
// before a season's index is cleared
type SnapshotEntry struct {
	Season     string    `json:"season"`
	AccountID  string    `json:"account_id"`
	Score      int64     `json:"score"`
	ExportedAt time.Time `json:"exported_at"`
}

// AnomalyRecord is one clamp event tagged with its account, queued for the
// archive worker
type AnomalyRecord struct {
	AccountID string `json:"account_id"`
	ClampEvent
}

// ProviderIdentity is the verified identity returned by a provider client
type ProviderIdentity struct {
	ProviderID string `json:"provider_id"`
	Login      string `json:"login"`
	Email      string `json:"email,omitempty"`
	Verified   bool   `json:"verified"`
	Tier       int    `json:"tier"`
}
