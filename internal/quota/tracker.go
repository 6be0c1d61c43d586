// Package quota tracks per-account usage reported by the platform and turns
// it into pre-call delay and batch-sizing recommendations. The platform
// reports usage asynchronously in a response header, so the tracker only
// ever holds the latest snapshot per account; a missing snapshot is treated
// optimistically as SAFE.
package quota

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/config"
)

// Snapshot is the latest usage record for one account. A new snapshot fully
// replaces the previous one.
type Snapshot struct {
	AccountID     string
	Type          string
	CallCount     int
	TotalCPUTime  int
	TotalTime     int
	RegainSeconds int    // estimated seconds until access is regained, 0 unless blocked
	AccessTier    string // platform-reported access tier label
	ObservedAt    time.Time
}

// usageRecord mirrors one element of the platform's usage header.
type usageRecord struct {
	Type          string `json:"type"`
	CallCount     int    `json:"call_count"`
	TotalCPUTime  int    `json:"total_cputime"`
	TotalTime     int    `json:"total_time"`
	RegainSeconds int    `json:"estimated_time_to_regain_access"`
	AccessTier    string `json:"ads_api_access_tier"`
}

var (
	nowFn  = time.Now
	randFn = rand.Float64
)

// Tracker holds the latest usage snapshot per account. One instance is
// shared by every queue in the process; all access is mutex-guarded.
type Tracker struct {
	mu        sync.RWMutex
	cfg       config.Config
	snapshots map[string]Snapshot
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg config.Config) *Tracker {
	return &Tracker{
		cfg:       cfg,
		snapshots: make(map[string]Snapshot),
	}
}

// Ingest parses the raw usage header for an account and replaces the stored
// snapshot. Malformed input returns false and is logged at debug level; it
// is untrusted data and never an error condition for the caller.
func (t *Tracker) Ingest(accountID, rawHeader string) (Snapshot, bool) {
	if rawHeader == "" {
		return Snapshot{}, false
	}

	var payload map[string][]usageRecord
	if err := json.Unmarshal([]byte(rawHeader), &payload); err != nil {
		log.Debug().Str("account", accountID).Err(err).Msg("Unparseable usage header")
		return Snapshot{}, false
	}

	records, ok := payload[accountID]
	if !ok {
		// The header is keyed by account id; some responses key by the
		// "act_" prefixed form.
		records, ok = payload["act_"+accountID]
	}
	if !ok || len(records) == 0 {
		log.Debug().Str("account", accountID).Msg("Usage header carries no record for account")
		return Snapshot{}, false
	}

	rec := records[0]
	if rec.CallCount < 0 || rec.RegainSeconds < 0 {
		log.Debug().Str("account", accountID).Int("call_count", rec.CallCount).Msg("Rejecting usage record with negative counters")
		return Snapshot{}, false
	}

	snap := Snapshot{
		AccountID:     accountID,
		Type:          rec.Type,
		CallCount:     rec.CallCount,
		TotalCPUTime:  rec.TotalCPUTime,
		TotalTime:     rec.TotalTime,
		RegainSeconds: rec.RegainSeconds,
		AccessTier:    rec.AccessTier,
		ObservedAt:    nowFn(),
	}

	t.mu.Lock()
	t.snapshots[accountID] = snap
	t.mu.Unlock()

	log.Debug().
		Str("account", accountID).
		Int("call_count", snap.CallCount).
		Int("regain_seconds", snap.RegainSeconds).
		Str("tier", t.TierOf(snap).String()).
		Msg("Usage snapshot updated")

	return snap, true
}

// Snapshot returns the stored snapshot for an account, if any.
func (t *Tracker) Snapshot(accountID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snapshots[accountID]
	return snap, ok
}

// TierOf classifies a snapshot. A regain estimate always wins over the call
// count: the platform has already cut us off, so the count is moot.
func (t *Tracker) TierOf(snap Snapshot) Tier {
	if snap.RegainSeconds > 0 {
		return TierBlocked
	}
	ceiling := t.cfg.Ceiling(snap.AccessTier)
	switch {
	case snap.CallCount >= t.cfg.CriticalMark(ceiling):
		return TierCritical
	case snap.CallCount >= t.cfg.WarningMark(ceiling):
		return TierWarning
	default:
		return TierSafe
	}
}

// TierFor classifies the stored snapshot for an account. No snapshot means
// SAFE: with no evidence to the contrary the engine runs optimistically.
func (t *Tracker) TierFor(accountID string) Tier {
	snap, ok := t.Snapshot(accountID)
	if !ok {
		return TierSafe
	}
	return t.TierOf(snap)
}

// RecommendedDelay returns how long to wait before dispatching an operation
// of the given type for the account. Zero when no snapshot exists.
func (t *Tracker) RecommendedDelay(accountID, opType string) time.Duration {
	snap, ok := t.Snapshot(accountID)
	if !ok {
		return 0
	}

	switch t.TierOf(snap) {
	case TierBlocked:
		return time.Duration(snap.RegainSeconds)*time.Second + t.cfg.BlockedBuffer
	case TierCritical:
		return t.cfg.CriticalCooldown
	case TierWarning:
		// Randomized within the band so a burst of queued retries does not
		// arrive in lockstep.
		band := t.cfg.WarningDelayMax - t.cfg.WarningDelayMin
		if band <= 0 {
			return t.cfg.WarningDelayMin
		}
		return t.cfg.WarningDelayMin + time.Duration(randFn()*float64(band))
	default:
		delay := t.cfg.SafeDelay
		if typed := t.cfg.OperationDelay(opType); typed > delay {
			delay = typed
		}
		return delay
	}
}

// SafeBatchSize recommends how many operations to put in one physical batch
// call, clamped to [1, maxAllowed].
func (t *Tracker) SafeBatchSize(accountID string, maxAllowed, costPerItem int) int {
	if maxAllowed < 1 {
		maxAllowed = 1
	}
	if costPerItem < 1 {
		costPerItem = 1
	}

	snap, ok := t.Snapshot(accountID)
	if !ok {
		return maxAllowed
	}

	ceiling := t.cfg.Ceiling(snap.AccessTier)
	headroom := ceiling - snap.CallCount
	if headroom < 0 {
		headroom = 0
	}

	var size int
	switch t.TierOf(snap) {
	case TierBlocked, TierCritical:
		size = 1
	case TierWarning:
		size = t.cfg.WarningBatchSize
		if byHeadroom := headroom / costPerItem; byHeadroom < size {
			size = byHeadroom
		}
	default:
		size = headroom / 2 / costPerItem
	}

	if size < 1 {
		size = 1
	}
	if size > maxAllowed {
		size = maxAllowed
	}
	return size
}
