package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adsengine/internal/quota"
)

func TestRun_CombinedResults(t *testing.T) {
	stubSleep(t)
	cfg := testConfig()
	tracker := quota.NewTracker(cfg)

	ops := []*Operation{succeedingOp("a"), rejectionOp("b"), succeedingOp("c")}
	report, err := Run(context.Background(), "42", tracker, cfg, ops)
	require.NoError(t, err)

	assert.Equal(t, "42", report.AccountID)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Failed)
}

func TestRun_EnqueueValidationFailure(t *testing.T) {
	stubSleep(t)
	cfg := testConfig()

	_, err := Run(context.Background(), "42", quota.NewTracker(cfg), cfg, []*Operation{{ID: "no-execute"}})
	assert.ErrorIs(t, err, ErrNoExecute)
}

func TestRunAccounts_IndependentQueuesSharedTracker(t *testing.T) {
	stubSleep(t)
	cfg := testConfig()
	tracker := quota.NewTracker(cfg)

	opsByAccount := map[string][]*Operation{
		"alpha": {succeedingOp("a1"), succeedingOp("a2")},
		"beta":  {succeedingOp("b1"), rejectionOp("b2")},
	}

	reports, err := RunAccounts(context.Background(), tracker, cfg, opsByAccount)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, 2, reports["alpha"].Completed)
	assert.Equal(t, 1, reports["beta"].Completed)
	assert.Equal(t, 1, reports["beta"].Failed)
}

func TestRunAccounts_PartialFailureStillReports(t *testing.T) {
	stubSleep(t)
	cfg := testConfig()

	opsByAccount := map[string][]*Operation{
		"good": {succeedingOp("g")},
		"bad":  {{ID: "invalid"}}, // enqueue validation failure
	}

	reports, err := RunAccounts(context.Background(), quota.NewTracker(cfg), cfg, opsByAccount)
	require.Error(t, err)
	// The failing account still appears with its partial report.
	assert.Contains(t, reports, "bad")
}
