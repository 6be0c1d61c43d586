package quota

// Tier classifies how close an account is to its quota ceiling.
type Tier int

const (
	// TierSafe means the account has comfortable headroom.
	TierSafe Tier = iota
	// TierWarning means the account is past the warning mark.
	TierWarning
	// TierCritical means the account is at or past the critical mark.
	TierCritical
	// TierBlocked means the platform has cut off access and reported a
	// regain estimate.
	TierBlocked
)

// String returns the tier as a string.
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	case TierBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}
