// Package queue serializes operations against one advertising account. The
// platform's quota is scoped per account, so operations for an account are
// dispatched strictly one at a time, with the usage tracker consulted before
// every dispatch; concurrency across accounts comes from independent queues
// sharing one tracker.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/circuit"
	"github.com/adforge/adsengine/internal/config"
	"github.com/adforge/adsengine/internal/metrics"
	"github.com/adforge/adsengine/internal/quota"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	// StatusPending means the operation is queued and not yet dispatched.
	StatusPending Status = "pending"
	// StatusCompleted means the operation succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means the operation failed terminally.
	StatusFailed Status = "failed"
)

// ErrNoExecute is returned by Enqueue for an operation without an executable
// body.
var ErrNoExecute = errors.New("operation has no execute function")

// Operation is one unit of work against the platform. The Execute closure
// carries everything the operation needs; the queue only sequences it.
type Operation struct {
	ID       string
	Type     string
	Execute  func(ctx context.Context) (any, error)
	Metadata map[string]string

	retries int
	status  Status
}

// Result is the terminal outcome of one operation.
type Result struct {
	OperationID string
	Type        string
	Status      Status
	Value       any
	Err         error
	Attempts    int
	Duration    time.Duration
}

// ProgressFunc is invoked after each operation reaches a terminal status.
type ProgressFunc func(completed, failed, remaining int, last Result)

// Recorder receives terminal outcomes, typically for a persistent journal.
type Recorder interface {
	RecordOutcome(accountID string, res Result)
}

// sleepFn is replaced in tests to observe delays without waiting them out.
var sleepFn = time.Sleep

// SerialQueue holds the pending operations of one account and drains them
// one at a time.
type SerialQueue struct {
	mu sync.Mutex

	accountID string
	cfg       config.Config
	tracker   *quota.Tracker
	breaker   *circuit.Breaker

	pending   []*Operation
	results   []Result
	completed int
	failed    int
	current   string

	draining  bool
	drainDone chan struct{}
	lastDrain []Result

	onProgress ProgressFunc
	recorder   Recorder
}

// Option customizes a SerialQueue.
type Option func(*SerialQueue)

// WithProgress installs a per-operation progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(q *SerialQueue) {
		q.onProgress = fn
	}
}

// WithRecorder installs a terminal-outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(q *SerialQueue) {
		q.recorder = r
	}
}

// WithBreaker shares a circuit breaker between queues. Queues for different
// accounts talk to the same platform, so the breaker is per-dependency, not
// per-account.
func WithBreaker(b *circuit.Breaker) Option {
	return func(q *SerialQueue) {
		q.breaker = b
	}
}

// New creates a queue for one account. The tracker is shared process-wide;
// the queue is the only owner of its pending operations. Without WithBreaker
// the queue guards the platform with its own breaker built from the config.
func New(accountID string, tracker *quota.Tracker, cfg config.Config, opts ...Option) *SerialQueue {
	q := &SerialQueue{
		accountID: accountID,
		cfg:       cfg,
		tracker:   tracker,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.breaker == nil {
		q.breaker = circuit.NewBreaker("platform", circuit.Config{
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
		})
	}
	return q
}

// Enqueue validates and appends an operation. O(1), never blocks on I/O.
func (q *SerialQueue) Enqueue(op *Operation) error {
	if op == nil || op.Execute == nil {
		return ErrNoExecute
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.status = StatusPending

	q.mu.Lock()
	q.pending = append(q.pending, op)
	q.mu.Unlock()
	return nil
}

// Len returns the number of pending operations.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops all operations that have not been dispatched yet. During a
// drain it takes effect at the next loop iteration; the in-flight operation
// is not interrupted.
func (q *SerialQueue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// QueueStatus is an aggregate progress snapshot.
type QueueStatus struct {
	QueueLength int
	Completed   int
	Failed      int
	Current     string
	Tier        quota.Tier
}

// Status reports queue progress and the account's current load tier.
func (q *SerialQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		QueueLength: len(q.pending),
		Completed:   q.completed,
		Failed:      q.failed,
		Current:     q.current,
		Tier:        q.tracker.TierFor(q.accountID),
	}
}

// Drain pops and executes pending operations one at a time until the queue
// is empty, returning the terminal results of this drain. Only one drain
// runs per queue: a concurrent call blocks on the in-flight drain and
// returns its results. Drain never panics out; a poisoned operation becomes
// a failed result and the loop continues.
func (q *SerialQueue) Drain(ctx context.Context) []Result {
	q.mu.Lock()
	if q.draining {
		done := q.drainDone
		q.mu.Unlock()
		<-done
		q.mu.Lock()
		defer q.mu.Unlock()
		return append([]Result(nil), q.lastDrain...)
	}
	q.draining = true
	q.drainDone = make(chan struct{})
	done := q.drainDone
	q.mu.Unlock()

	var results []Result
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		op := q.pending[0]
		q.pending = q.pending[1:]
		q.current = op.ID
		q.mu.Unlock()

		delay := q.tracker.RecommendedDelay(q.accountID, op.Type)
		tier := q.tracker.TierFor(q.accountID)
		metrics.RecordDispatch(q.accountID, tier.String(), delay)
		if delay > 0 {
			log.Debug().
				Str("account", q.accountID).
				Str("operation", op.ID).
				Str("tier", tier.String()).
				Dur("delay", delay).
				Msg("Waiting before dispatch")
			sleepFn(delay)
		}

		res := q.attempt(ctx, op)

		q.mu.Lock()
		q.results = append(q.results, res)
		results = append(results, res)
		if res.Status == StatusCompleted {
			q.completed++
		} else {
			q.failed++
		}
		q.current = ""
		completed, failed, remaining := q.completed, q.failed, len(q.pending)
		q.mu.Unlock()

		metrics.RecordOperation(q.accountID, op.Type, string(res.Status))
		if q.recorder != nil {
			q.recorder.RecordOutcome(q.accountID, res)
		}
		if q.onProgress != nil {
			q.onProgress(completed, failed, remaining, res)
		}
	}

	q.mu.Lock()
	q.lastDrain = results
	q.draining = false
	q.mu.Unlock()
	close(done)

	return results
}
