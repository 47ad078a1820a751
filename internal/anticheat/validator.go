package anticheat

import (
	"time"

	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
)

// Clamp event kinds recorded in the account audit log
const (
	ClampXP            = "xp_clamp"
	ClampStat          = "stat_clamp"
	ClampLevelMismatch = "level_mismatch"
	ClampBadSignature  = "bad_signature"
)

// statCap bounds one known gameable counter. PerSync is always accepted;
// PerHour scales with elapsed time like the XP cap.
type statCap struct {
	PerSync int64
	PerHour int64
}

// statCaps covers the known gameable counters. Any stat key outside this set
// merges by plain max with no cap, keeping unknown client counters forward
// compatible.
var statCaps = map[string]statCap{
	"kills":            {PerSync: 500, PerHour: 300},
	"wins":             {PerSync: 60, PerHour: 30},
	"quests_completed": {PerSync: 40, PerHour: 20},
	"chests_opened":    {PerSync: 100, PerHour: 60},
	"bosses_defeated":  {PerSync: 20, PerHour: 10},
}

// Result contains the accepted values of one validated submission
type Result struct {
	XP     int64
	Level  int64
	Stats  map[string]int64
	Events []domain.ClampEvent
	Sample *domain.RateSample
}

// Validator bounds client-submitted progression deltas by elapsed time. It
// is a pure function of (prior snapshot, submission, now): identical inputs
// produce identical results and it never mutates its arguments.
type Validator struct {
	cfg *config.ProgressionConfig
}

// NewValidator creates a validator with the given ceilings
func NewValidator(cfg *config.ProgressionConfig) *Validator {
	return &Validator{cfg: cfg}
}

// MaxXPDelta returns the largest XP gain accepted for a sync after elapsed
// time: max(perSyncCeiling, hourlyCeiling * min(hours, maxElapsedHours)).
func (v *Validator) MaxXPDelta(elapsed time.Duration) int64 {
	hours := elapsed.Hours()
	if hours < 0 {
		hours = 0
	}
	if maxH := float64(v.cfg.MaxElapsedHours); hours > maxH {
		hours = maxH
	}
	byTime := int64(float64(v.cfg.HourlyXPCeiling) * hours)
	if byTime > v.cfg.PerSyncXPCeiling {
		return byTime
	}
	return v.cfg.PerSyncXPCeiling
}

// Validate clamps a submission against the prior snapshot. Excess deltas are
// reduced, never rejected; every correction becomes a clamp event. Signed
// reports whether the submission carried a valid request signature.
func (v *Validator) Validate(prior *domain.Account, sub domain.SyncSubmission, now time.Time, signed bool) Result {
	res := Result{
		XP:    normalize(sub.XP, 0),
		Level: normalize(sub.Level, 1),
		Stats: make(map[string]int64, len(sub.Stats)),
	}

	elapsed := time.Duration(0)
	if !prior.LastSyncAt.IsZero() {
		elapsed = now.Sub(prior.LastSyncAt)
		if elapsed < 0 {
			elapsed = 0
		}
	}

	// Time-windowed XP cap
	if delta := res.XP - prior.XP; delta > 0 {
		if allowed := v.MaxXPDelta(elapsed); delta > allowed {
			accepted := prior.XP + allowed
			res.Events = append(res.Events, domain.ClampEvent{
				Kind:      ClampXP,
				Submitted: res.XP,
				Accepted:  accepted,
				Timestamp: now,
			})
			res.XP = accepted
		}

		// Detective-only rate sample for offline review
		hours := elapsed.Hours()
		rate := res.XP - prior.XP
		if hours > 0 {
			rate = int64(float64(res.XP-prior.XP) / hours)
		}
		res.Sample = &domain.RateSample{
			XPPerHour: rate,
			ElapsedS:  int64(elapsed.Seconds()),
			Signed:    signed,
			Timestamp: now,
		}
	}

	// Per-stat delta caps on known gameable counters
	for key, val := range sub.Stats {
		val = normalize(val, 0)
		cap, known := statCaps[key]
		if !known {
			res.Stats[key] = val
			continue
		}
		delta := val - prior.Stats[key]
		if delta <= 0 {
			res.Stats[key] = val
			continue
		}
		allowed := cap.PerSync
		if byTime := int64(float64(cap.PerHour) * minHours(elapsed, v.cfg.MaxElapsedHours)); byTime > allowed {
			allowed = byTime
		}
		if delta > allowed {
			accepted := prior.Stats[key] + allowed
			res.Events = append(res.Events, domain.ClampEvent{
				Kind:      ClampStat,
				Field:     key,
				Submitted: val,
				Accepted:  accepted,
				Timestamp: now,
			})
			val = accepted
		}
		res.Stats[key] = val
	}

	// Level must agree with the clamped XP under the canonical curve; XP wins
	// whether the claim runs high or low
	if implied := domain.LevelForXP(maxInt64(res.XP, prior.XP)); res.Level != implied {
		res.Events = append(res.Events, domain.ClampEvent{
			Kind:      ClampLevelMismatch,
			Field:     "level",
			Submitted: res.Level,
			Accepted:  implied,
			Timestamp: now,
		})
		res.Level = implied
	}

	return res
}

func minHours(elapsed time.Duration, maxHours int64) float64 {
	hours := elapsed.Hours()
	if hours < 0 {
		return 0
	}
	if hours > float64(maxHours) {
		return float64(maxHours)
	}
	return hours
}

// normalize replaces malformed negative numerics with a safe default rather
// than failing the request
func normalize(v, def int64) int64 {
	if v < 0 {
		return def
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
