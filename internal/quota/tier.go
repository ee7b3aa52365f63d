package quota

import (
	"fmt"
	"strings"
)

// Tier is a service budget class.
type Tier string

const (
	TierFree       Tier = "free"
	TierBuilder    Tier = "builder"
	TierPro        Tier = "pro"
	TierProPlus    Tier = "pro_plus"
	TierEnterprise Tier = "enterprise"
)

// Limits maps a tier to its daily call budget.
type Limits map[Tier]int

// DefaultLimits returns the published daily budgets per tier.
func DefaultLimits() Limits {
	return Limits{
		TierFree:       100,
		TierBuilder:    1000,
		TierPro:        10000,
		TierProPlus:    50000,
		TierEnterprise: 250000,
	}
}

// For returns the limit for t, falling back to the free budget.
func (l Limits) For(t Tier) int {
	if n, ok := l[t]; ok {
		return n
	}
	return l[TierFree]
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierBuilder, TierPro, TierProPlus, TierEnterprise:
		return t, nil
	case "pro-plus", "proplus":
		return TierProPlus, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// TierFromKey infers the tier from a key of the form <vendor>_<tier>_<random>.
// Keys that do not carry a recognised tier are treated as free.
func TierFromKey(key string) Tier {
	_, rest, ok := strings.Cut(key, "_")
	if !ok {
		return TierFree
	}
	// pro_plus must be checked before pro
	for _, t := range []Tier{TierProPlus, TierEnterprise, TierBuilder, TierPro, TierFree} {
		if strings.HasPrefix(rest, string(t)+"_") {
			return t
		}
	}
	return TierFree
}
