// Package circuit provides a circuit breaker around the remote platform
// dependency. It prevents hammering an API that is persistently failing by
// blocking calls for a cool-down window after repeated failures.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/apierrors"
	"github.com/adforge/adsengine/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is tripped and calls are blocked.
	StateOpen
	// StateHalfOpen means the circuit is testing if the dependency has
	// recovered.
	StateHalfOpen
)

// String returns the state as a string.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
}

var nowFn = time.Now

// Breaker implements the circuit breaker pattern. One instance guards one
// external dependency, independent of account.
type Breaker struct {
	mu sync.RWMutex

	name   string
	config Config

	state               State
	consecutiveFailures int
	nextProbeAt         time.Time
	probeInFlight       bool
	lastError           error

	totalTrips int64

	onTrip func(err error)
}

// NewBreaker creates a breaker for the named dependency.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// SetOnTrip sets a callback invoked once per trip.
func (b *Breaker) SetOnTrip(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// Call runs fn under the breaker. When the circuit is open and the cooldown
// has not elapsed, fn is not invoked and ErrCircuitOpen is returned so the
// caller can apply its own longer cool-down.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return apierrors.ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		b.recordFailure(err)
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if nowFn().Before(b.nextProbeAt) {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		log.Info().
			Str("breaker", b.name).
			Str("state", "half-open").
			Msg("Circuit breaker allowing recovery probe")
		return true

	case StateHalfOpen:
		// Exactly one probe at a time.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.lastError = nil

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		b.state = StateClosed
		log.Info().
			Str("breaker", b.name).
			Str("state", "closed").
			Msg("Circuit breaker recovered and closed")
	}
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastError = err

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip(err)
		}

	case StateHalfOpen:
		// The probe failed; back to open for another full cooldown.
		b.probeInFlight = false
		b.trip(err)
	}
}

// trip opens the circuit. Caller holds the lock.
func (b *Breaker) trip(err error) {
	b.state = StateOpen
	b.nextProbeAt = nowFn().Add(b.config.Cooldown)
	b.probeInFlight = false
	b.totalTrips++
	metrics.RecordBreakerTrip(b.name)

	log.Warn().
		Str("breaker", b.name).
		Int("failures", b.consecutiveFailures).
		Dur("cooldown", b.config.Cooldown).
		Err(err).
		Msg("Circuit breaker tripped")

	if b.onTrip != nil {
		go b.onTrip(err)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset returns the breaker to closed with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.lastError = nil

	log.Info().Str("breaker", b.name).Msg("Circuit breaker reset")
}

// Status is an introspection snapshot of the breaker.
type Status struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	TotalTrips          int64         `json:"total_trips"`
	TimeUntilProbe      time.Duration `json:"time_until_probe_ms,omitempty"`
}

// GetStatus returns the current status of the breaker.
func (b *Breaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := Status{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalTrips:          b.totalTrips,
	}
	if b.lastError != nil {
		status.LastError = b.lastError.Error()
	}
	if b.state == StateOpen {
		if until := b.nextProbeAt.Sub(nowFn()); until > 0 {
			status.TimeUntilProbe = until
		}
	}
	return status
}
