package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 50, cfg.WarningPercent)
	assert.Equal(t, 85, cfg.CriticalPercent)
	assert.Equal(t, 100, cfg.CallCeilingDevelopment)
	assert.Equal(t, 5*time.Minute, cfg.CriticalCooldown)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.QuotaBackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.QuotaBackoffMax)
}

func TestCeiling(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, cfg.CallCeilingStandard, cfg.Ceiling("standard_access"))
	assert.Equal(t, cfg.CallCeilingStandard, cfg.Ceiling("managed_standard_access"))
	assert.Equal(t, cfg.CallCeilingDevelopment, cfg.Ceiling("development_access"))
	// Unknown labels fall back to the conservative ceiling.
	assert.Equal(t, cfg.CallCeilingDevelopment, cfg.Ceiling("mystery_tier"))
	assert.Equal(t, cfg.CallCeilingDevelopment, cfg.Ceiling(""))
}

func TestMarks(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 50, cfg.WarningMark(100))
	assert.Equal(t, 85, cfg.CriticalMark(100))
	assert.Equal(t, 5000, cfg.WarningMark(10000))
}

func TestOperationDelay(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 10*time.Second, cfg.OperationDelay("video_upload"))
	assert.Equal(t, time.Duration(0), cfg.OperationDelay("unknown_type"))

	var empty Config
	assert.Equal(t, time.Duration(0), empty.OperationDelay("video_upload"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADSENGINE_CRITICAL_PERCENT", "80")
	t.Setenv("ADSENGINE_WARNING_PERCENT", "25")
	t.Setenv("ADSENGINE_CRITICAL_COOLDOWN", "2m")
	t.Setenv("ADSENGINE_MAX_RETRIES", "5")
	t.Setenv("ADSENGINE_OPERATION_DELAYS", "video_upload=30s,fetch=100ms")

	cfg := Load()

	assert.Equal(t, 80, cfg.CriticalPercent)
	assert.Equal(t, 25, cfg.WarningPercent)
	assert.Equal(t, 2*time.Minute, cfg.CriticalCooldown)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.OperationDelays["video_upload"])
	assert.Equal(t, 100*time.Millisecond, cfg.OperationDelays["fetch"])
}

func TestLoad_IgnoresMalformedOverrides(t *testing.T) {
	t.Setenv("ADSENGINE_MAX_RETRIES", "lots")
	t.Setenv("ADSENGINE_SAFE_DELAY", "soon")
	t.Setenv("ADSENGINE_OPERATION_DELAYS", "garbage")

	cfg := Load()
	defaults := Defaults()

	assert.Equal(t, defaults.MaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaults.SafeDelay, cfg.SafeDelay)
	assert.Equal(t, defaults.OperationDelays, cfg.OperationDelays)
}
