// Package config holds the tunable knobs of the execution engine. The
// platform's numeric ceilings are tier- and version-dependent, so every
// threshold lives here rather than as a constant next to the code that
// consults it.
package config

import "time"

// Config controls quota classification, pre-call delays, and retry behavior.
type Config struct {
	// Tier classification, expressed as percent of the per-access-tier call
	// ceiling. CallCount at or above CriticalPercent of the ceiling is
	// CRITICAL; between WarningPercent and CriticalPercent is WARNING.
	WarningPercent  int
	CriticalPercent int

	// Call ceilings per platform access tier label.
	CallCeilingDevelopment int
	CallCeilingStandard    int

	// Delay policy per tier.
	BlockedBuffer    time.Duration // added on top of the platform's regain estimate
	CriticalCooldown time.Duration
	WarningDelayMin  time.Duration
	WarningDelayMax  time.Duration
	SafeDelay        time.Duration

	// Minimum inter-operation delay per operation type, maximized against
	// SafeDelay when the account is in the SAFE tier.
	OperationDelays map[string]time.Duration

	// Batch sizing.
	WarningBatchSize int

	// Retry policy for the serial queue.
	MaxRetries         int
	QuotaBackoffBase   time.Duration
	QuotaBackoffMax    time.Duration
	NetworkBackoffStep time.Duration

	// Circuit breaker guarding the platform dependency.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Defaults returns the stock configuration. The WARNING/CRITICAL marks follow
// the stricter of the known variants (50/85); deployments that want the
// 25/80 split override via environment.
func Defaults() Config {
	return Config{
		WarningPercent:  50,
		CriticalPercent: 85,

		CallCeilingDevelopment: 100,
		CallCeilingStandard:    10000,

		BlockedBuffer:    30 * time.Second,
		CriticalCooldown: 5 * time.Minute,
		WarningDelayMin:  10 * time.Second,
		WarningDelayMax:  30 * time.Second,
		SafeDelay:        500 * time.Millisecond,

		OperationDelays: map[string]time.Duration{
			"video_upload": 10 * time.Second,
			"image_upload": 3 * time.Second,
			"write":        time.Second,
			"fetch":        0,
		},

		WarningBatchSize: 5,

		MaxRetries:         3,
		QuotaBackoffBase:   5 * time.Second,
		QuotaBackoffMax:    5 * time.Minute,
		NetworkBackoffStep: time.Second,

		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
	}
}

// Ceiling maps the platform's access-tier label to its call ceiling.
// Unknown labels get the development ceiling, which is the conservative
// choice.
func (c Config) Ceiling(accessTier string) int {
	switch accessTier {
	case "standard_access", "managed_standard_access":
		return c.CallCeilingStandard
	default:
		return c.CallCeilingDevelopment
	}
}

// WarningMark returns the call count at which an account enters WARNING for
// the given ceiling.
func (c Config) WarningMark(ceiling int) int {
	return ceiling * c.WarningPercent / 100
}

// CriticalMark returns the call count at which an account enters CRITICAL
// for the given ceiling.
func (c Config) CriticalMark(ceiling int) int {
	return ceiling * c.CriticalPercent / 100
}

// OperationDelay returns the configured minimum delay for an operation type,
// zero when the type has no entry.
func (c Config) OperationDelay(opType string) time.Duration {
	if c.OperationDelays == nil {
		return 0
	}
	return c.OperationDelays[opType]
}
