package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/adforge/adsengine/internal/circuit"
	"github.com/adforge/adsengine/internal/config"
	"github.com/adforge/adsengine/internal/quota"
)

// RunReport aggregates the outcome of draining one account's operations.
// Partial progress is always reported, even under partial failure.
type RunReport struct {
	AccountID string
	Results   []Result
	Completed int
	Failed    int
}

// Run is the composite helper for simple callers: build a queue for the
// account, enqueue the operations, drain, and return the combined results.
func Run(ctx context.Context, accountID string, tracker *quota.Tracker, cfg config.Config, ops []*Operation, opts ...Option) (RunReport, error) {
	report := RunReport{AccountID: accountID}

	q := New(accountID, tracker, cfg, opts...)
	for _, op := range ops {
		if err := q.Enqueue(op); err != nil {
			return report, err
		}
	}

	report.Results = q.Drain(ctx)
	for _, res := range report.Results {
		if res.Status == StatusCompleted {
			report.Completed++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// RunAccounts drains several accounts concurrently. The queues are
// independent of each other; the usage tracker and the platform circuit
// breaker are shared, and both are safe for concurrent use. Within each
// account operations remain strictly serialized.
func RunAccounts(ctx context.Context, tracker *quota.Tracker, cfg config.Config, opsByAccount map[string][]*Operation, opts ...Option) (map[string]RunReport, error) {
	var mu sync.Mutex
	reports := make(map[string]RunReport, len(opsByAccount))

	// One breaker for the one remote dependency; a caller-supplied
	// WithBreaker in opts still wins because options apply in order.
	shared := circuit.NewBreaker("platform", circuit.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})
	opts = append([]Option{WithBreaker(shared)}, opts...)

	g, gctx := errgroup.WithContext(ctx)
	for accountID, ops := range opsByAccount {
		accountID, ops := accountID, ops
		g.Go(func() error {
			report, err := Run(gctx, accountID, tracker, cfg, ops, opts...)
			mu.Lock()
			reports[accountID] = report
			mu.Unlock()
			return err
		})
	}

	err := g.Wait()
	return reports, err
}
