package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "ADSENGINE_"

// Load returns Defaults overlaid with any ADSENGINE_* environment variables.
// A .env file in the working directory is honored when present.
func Load() Config {
	// Best-effort: absence of a .env file is the normal case.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment overrides from .env")
	}

	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	applyInt("WARNING_PERCENT", &c.WarningPercent)
	applyInt("CRITICAL_PERCENT", &c.CriticalPercent)
	applyInt("CALL_CEILING_DEVELOPMENT", &c.CallCeilingDevelopment)
	applyInt("CALL_CEILING_STANDARD", &c.CallCeilingStandard)

	applyDuration("BLOCKED_BUFFER", &c.BlockedBuffer)
	applyDuration("CRITICAL_COOLDOWN", &c.CriticalCooldown)
	applyDuration("WARNING_DELAY_MIN", &c.WarningDelayMin)
	applyDuration("WARNING_DELAY_MAX", &c.WarningDelayMax)
	applyDuration("SAFE_DELAY", &c.SafeDelay)

	applyInt("WARNING_BATCH_SIZE", &c.WarningBatchSize)

	applyInt("MAX_RETRIES", &c.MaxRetries)
	applyDuration("QUOTA_BACKOFF_BASE", &c.QuotaBackoffBase)
	applyDuration("QUOTA_BACKOFF_MAX", &c.QuotaBackoffMax)
	applyDuration("NETWORK_BACKOFF_STEP", &c.NetworkBackoffStep)

	applyInt("BREAKER_THRESHOLD", &c.BreakerThreshold)
	applyDuration("BREAKER_COOLDOWN", &c.BreakerCooldown)

	// ADSENGINE_OPERATION_DELAYS=video_upload=10s,write=1s
	if val := os.Getenv(envPrefix + "OPERATION_DELAYS"); val != "" {
		delays := make(map[string]time.Duration)
		for _, pair := range strings.Split(val, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) != 2 {
				log.Warn().Str("entry", pair).Msg("Ignoring malformed operation delay entry")
				continue
			}
			d, err := time.ParseDuration(kv[1])
			if err != nil {
				log.Warn().Str("entry", pair).Err(err).Msg("Ignoring unparseable operation delay")
				continue
			}
			delays[kv[0]] = d
		}
		if len(delays) > 0 {
			c.OperationDelays = delays
		}
	}
}

func applyInt(name string, dst *int) {
	val := os.Getenv(envPrefix + name)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("var", envPrefix+name).Str("value", val).Msg("Ignoring non-integer environment override")
		return
	}
	*dst = n
}

func applyDuration(name string, dst *time.Duration) {
	val := os.Getenv(envPrefix + name)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn().Str("var", envPrefix+name).Str("value", val).Msg("Ignoring unparseable duration override")
		return
	}
	*dst = d
}
