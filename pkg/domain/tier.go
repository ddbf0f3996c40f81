package domain

import (
	"fmt"
	"time"
)

// Tier is the privacy tier of an anonymous identity. Tiers are a closed set;
// per-tier behavior lives in the tierConfigs table so invariant checks stay
// exhaustive instead of scattered across call sites.
type Tier string

const (
	// TierOnyx is the entry tier with the shortest mandatory review window.
	TierOnyx Tier = "onyx"
	// TierObsidian is the mid tier.
	TierObsidian Tier = "obsidian"
	// TierVoid is the highest-privacy tier with the longest mandatory review
	// window before identity disclosure.
	TierVoid Tier = "void"
)

// TierConfig carries the per-tier parameters consulted by the registry and
// the reveal state machine.
type TierConfig struct {
	// HandlePrefix namespaces generated handles, e.g. "onyx-7f3c9a".
	HandlePrefix string
	// HandleSuffixBytes is the random suffix entropy in bytes.
	HandleSuffixBytes int
	// ReviewDwell is the minimum wall-clock time a reveal request must spend
	// in evidence review before full disclosure.
	ReviewDwell time.Duration
	// DisclosureRetention bounds how long a full disclosure may sit
	// unacknowledged before the engine purges it.
	DisclosureRetention time.Duration
}

var tierConfigs = map[Tier]TierConfig{
	TierOnyx: {
		HandlePrefix:        "onyx",
		HandleSuffixBytes:   3,
		ReviewDwell:         24 * time.Hour,
		DisclosureRetention: 72 * time.Hour,
	},
	TierObsidian: {
		HandlePrefix:        "obsidian",
		HandleSuffixBytes:   4,
		ReviewDwell:         48 * time.Hour,
		DisclosureRetention: 72 * time.Hour,
	},
	TierVoid: {
		HandlePrefix:        "void",
		HandleSuffixBytes:   4,
		ReviewDwell:         72 * time.Hour,
		DisclosureRetention: 48 * time.Hour,
	},
}

// ParseTier validates a tier string from untrusted input.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierConfigs[t]; !ok {
		return "", fmt.Errorf("unknown tier: %q", s)
	}
	return t, nil
}

// Config returns the parameter table for the tier. Unknown tiers fall back to
// the most restrictive (TierVoid) so a missing table entry can never weaken a
// review window.
func (t Tier) Config() TierConfig {
	if cfg, ok := tierConfigs[t]; ok {
		return cfg
	}
	return tierConfigs[TierVoid]
}

// Valid reports whether the tier is a member of the closed set.
func (t Tier) Valid() bool {
	_, ok := tierConfigs[t]
	return ok
}

// Tiers returns all tiers in ascending privacy order.
func Tiers() []Tier {
	return []Tier{TierOnyx, TierObsidian, TierVoid}
}
