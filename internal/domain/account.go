package domain

import "time"

// ProviderKind identifies an external identity provider
type ProviderKind string

const (
	ProviderTwitch  ProviderKind = "twitch"
	ProviderDiscord ProviderKind = "discord"
)

// ProviderLink associates an external identity with a canonical account
type ProviderLink struct {
	Kind       ProviderKind `json:"kind"`
	ProviderID string       `json:"provider_id"`
	Login      string       `json:"login,omitempty"`
	LinkedAt   time.Time    `json:"linked_at"`
}

// ClampEvent records an anti-cheat correction applied to a sync
type ClampEvent struct {
	Kind      string    `json:"kind"`
	Field     string    `json:"field,omitempty"`
	Submitted int64     `json:"submitted"`
	Accepted  int64     `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// RateSample records the XP rate observed on one sync, kept for offline review
type RateSample struct {
	XPPerHour int64     `json:"xp_per_hour"`
	ElapsedS  int64     `json:"elapsed_s"`
	Signed    bool      `json:"signed"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	// AuditLogCap bounds the per-account clamp event ring buffer
	AuditLogCap = 50
	// RateSampleCap bounds the per-account rate sample ring buffer
	RateSampleCap = 50
)

// Account is the canonical unified identity record
type Account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`

	// NameChosen is false while Name was auto-populated from a provider's
	// native login and the user has not explicitly picked it.
	NameChosen bool `json:"name_chosen"`

	Links []ProviderLink `json:"links"`

	// Season-scoped progression, reset at rollover
	Season       string           `json:"season"`
	XP           int64            `json:"xp"`
	Level        int64            `json:"level"`
	Stats        map[string]int64 `json:"stats,omitempty"`
	Achievements []string         `json:"achievements,omitempty"`
	SkillPoints  int64            `json:"skill_points"`
	Skills       []string         `json:"skills,omitempty"`

	// Permanent progression, survives rollover
	HighestLevel int64            `json:"highest_level"`
	Unlocks      map[string]bool  `json:"unlocks,omitempty"`
	AllTimeStats map[string]int64 `json:"all_time_stats,omitempty"`

	// Pending-reset bookkeeping: set at rollover, cleared once the client
	// submits values consistent with the new season floor.
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	PreResetXP    int64      `json:"pre_reset_xp,omitempty"`
	PreResetLevel int64      `json:"pre_reset_level,omitempty"`

	// Administrative stat overrides, held until the client acknowledges
	ForcedStats map[string]int64 `json:"forced_stats,omitempty"`

	// InsuranceAt is the last accepted insurance debit, at most one per season
	InsuranceAt *time.Time `json:"insurance_at,omitempty"`

	Visibility string `json:"visibility,omitempty"` // "public" or "hidden"

	AuditLog    []ClampEvent `json:"audit_log,omitempty"`
	RateSamples []RateSample `json:"rate_samples,omitempty"`

	LastSyncAt time.Time `json:"last_sync_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LinkFor returns the provider link of the given kind, if present
func (a *Account) LinkFor(kind ProviderKind) *ProviderLink {
	for i := range a.Links {
		if a.Links[i].Kind == kind {
			return &a.Links[i]
		}
	}
	return nil
}

// AddClamp appends a clamp event, evicting the oldest past AuditLogCap
func (a *Account) AddClamp(ev ClampEvent) {
	a.AuditLog = append(a.AuditLog, ev)
	if len(a.AuditLog) > AuditLogCap {
		a.AuditLog = a.AuditLog[len(a.AuditLog)-AuditLogCap:]
	}
}

// AddRateSample appends a rate sample, evicting the oldest past RateSampleCap
func (a *Account) AddRateSample(s RateSample) {
	a.RateSamples = append(a.RateSamples, s)
	if len(a.RateSamples) > RateSampleCap {
		a.RateSamples = a.RateSamples[len(a.RateSamples)-RateSampleCap:]
	}
}

// PublicName returns the display name safe for rank responses. Names that
// were auto-populated from a provider login are reported as absent.
func (a *Account) PublicName() string {
	if !a.NameChosen {
		return ""
	}
	return a.Name
}

// AllowsPresence reports whether the account's visibility preference permits
// exposing online status
func (a *Account) AllowsPresence() bool {
	return a.Visibility != "hidden"
}

// LegacyRecord is the pre-unification single-provider profile shape. It is
// migrated into an Account lazily on first resolution.
type LegacyRecord struct {
	ProviderID   string           `json:"provider_id"`
	Login        string           `json:"login"`
	Email        string           `json:"email,omitempty"`
	XP           int64            `json:"xp"`
	Level        int64            `json:"level"`
	HighestLevel int64            `json:"highest_level"`
	Stats        map[string]int64 `json:"stats,omitempty"`
	Achievements []string         `json:"achievements,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
