package entitlement

// Tier represents a subscription entitlement level derived from the purchased
// product. Tiers are strictly ordered; use Priority for comparisons.
type Tier string

const (
	TierNone    Tier = "none"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
	TierElite   Tier = "elite"
)

// Priority returns the numeric rank of the tier. Higher rank grants a
// superset of the lower ranks' features.
func (t Tier) Priority() int {
	switch t {
	case TierBasic:
		return 1
	case TierPremium:
		return 2
	case TierElite:
		return 3
	default:
		return 0
	}
}

// IsPaid reports whether the tier corresponds to a paid subscription.
func (t Tier) IsPaid() bool {
	return t.Priority() > 0
}

// UpgradesFrom reports whether switching to t from other raises the
// entitlement level.
func (t Tier) UpgradesFrom(other Tier) bool {
	return t.Priority() > other.Priority()
}
