package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/apierrors"
	"github.com/adforge/adsengine/internal/metrics"
)

// attempt executes one operation with bounded retry. A quota-signature
// failure backs off exponentially and re-consults the usage tracker before
// the next attempt; other retryable failures back off linearly. Rejections
// and indeterminate timeouts are terminal on the first occurrence.
func (q *SerialQueue) attempt(ctx context.Context, op *Operation) Result {
	start := time.Now()
	maxAttempts := q.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		value, err := q.execute(ctx, op)
		if err == nil {
			op.status = StatusCompleted
			return Result{
				OperationID: op.ID,
				Type:        op.Type,
				Status:      StatusCompleted,
				Value:       value,
				Attempts:    attempt,
				Duration:    time.Since(start),
			}
		}

		lastErr = err
		if !apierrors.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		op.retries++
		category := apierrors.CategoryOf(err)
		metrics.RecordRetry(q.accountID, string(category))

		var backoff time.Duration
		if category == apierrors.CategoryQuota {
			backoff = q.quotaBackoff(attempt)
			// The failure proves the quota picture changed; what the
			// tracker now recommends may exceed the schedule.
			if rec := q.tracker.RecommendedDelay(q.accountID, op.Type); rec > backoff {
				backoff = rec
			}
		} else {
			backoff = time.Duration(attempt) * q.cfg.NetworkBackoffStep
		}

		log.Debug().
			Str("account", q.accountID).
			Str("operation", op.ID).
			Str("category", string(category)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Operation failed, retrying after backoff")
		sleepFn(backoff)
	}

	op.status = StatusFailed
	log.Warn().
		Str("account", q.accountID).
		Str("operation", op.ID).
		Str("type", op.Type).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Operation failed terminally")

	return Result{
		OperationID: op.ID,
		Type:        op.Type,
		Status:      StatusFailed,
		Err:         lastErr,
		Attempts:    attempts,
		Duration:    time.Since(start),
	}
}

// quotaBackoff doubles from the configured base per attempt, capped.
func (q *SerialQueue) quotaBackoff(attempt int) time.Duration {
	backoff := q.cfg.QuotaBackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= q.cfg.QuotaBackoffMax {
			return q.cfg.QuotaBackoffMax
		}
	}
	if q.cfg.QuotaBackoffMax > 0 && backoff > q.cfg.QuotaBackoffMax {
		backoff = q.cfg.QuotaBackoffMax
	}
	return backoff
}

// execute runs one attempt under the circuit breaker. Only network-category
// failures feed the breaker: a throttle or a business rejection proves the
// platform is alive and answering, so neither should open the circuit. When
// the circuit is open the operation is not invoked at all and the synthetic
// ErrCircuitOpen comes back as the attempt's failure.
func (q *SerialQueue) execute(ctx context.Context, op *Operation) (any, error) {
	if q.breaker == nil {
		return runGuarded(ctx, op)
	}

	var value any
	var opErr error
	brErr := q.breaker.Call(func() error {
		value, opErr = runGuarded(ctx, op)
		if opErr != nil && apierrors.CategoryOf(opErr) == apierrors.CategoryNetwork {
			return opErr
		}
		return nil
	})
	if opErr == nil && brErr != nil {
		// The breaker rejected the call without running it.
		return nil, brErr
	}
	return value, opErr
}

// runGuarded converts a panicking operation into an ordinary failure; one
// poisoned operation must not take down the drain loop.
func runGuarded(ctx context.Context, op *Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op.Execute(ctx)
}
