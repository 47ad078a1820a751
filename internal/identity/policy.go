package identity

import (
	"strings"

	"github.com/profile-ledger/internal/config"
)

// Policy grants a subscription tier floor to specific identities. Injected
// into the resolver so the allow-list never lives inside core logic.
type Policy interface {
	// TierFloor returns the minimum tier granted to an identity, or 0
	TierFloor(email, chosenName string) int
}

// AllowListPolicy is a Policy backed by the configured allow-list
type AllowListPolicy struct {
	entries []config.AllowListEntry
}

// NewAllowListPolicy builds a policy from configuration
func NewAllowListPolicy(entries []config.AllowListEntry) *AllowListPolicy {
	return &AllowListPolicy{entries: entries}
}

// TierFloor matches entries case-insensitively on email or chosen name
func (p *AllowListPolicy) TierFloor(email, chosenName string) int {
	floor := 0
	for _, e := range p.entries {
		if e.Email != "" && strings.EqualFold(e.Email, email) ||
			e.Name != "" && strings.EqualFold(e.Name, chosenName) {
			if e.TierFloor > floor {
				floor = e.TierFloor
			}
		}
	}
	return floor
}
