package controlloop

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/executor"
	"github.com/mbd888/remediation-agent/internal/learner"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

func newTestLoop() *ControlLoop {
	obs := observer.New(0)
	r := reasoner.New()
	state := agentstate.New()
	dm := decisionmaker.New()
	exec := executor.New(state, nil)
	l := learner.New(state)
	return New(obs, r, dm, state, exec, l, agentstate.DefaultLimits(), time.Second, nil, nil)
}

func txn(id string, status payment.Status, isRetry bool) payment.Transaction {
	return payment.Transaction{
		ID:            id,
		Timestamp:     time.Now(),
		PaymentMethod: payment.MethodCreditCard,
		Issuer:        "acme",
		MerchantID:    "merchant_1",
		Region:        "us",
		Status:        status,
		LatencyMs:     100,
		IsRetry:       isRetry,
	}
}

func TestRunCycleIdleObserverProducesEmptyReport(t *testing.T) {
	c := newTestLoop()

	result := c.RunCycle(context.Background())

	require.Equal(t, 1, result.Cycle)
	require.Empty(t, result.PatternsDetected)
	require.Empty(t, result.ActionsTaken)
	require.Empty(t, result.RollbacksExecuted)
	require.Empty(t, result.Error)
	require.GreaterOrEqual(t, result.CycleDurationSeconds, 0.0)
	require.Equal(t, 1, c.Cycle())
}

func TestDecideAndActSkipsSubThresholdSeverity(t *testing.T) {
	c := newTestLoop()

	low := reasoner.Pattern{
		ID:         "p1",
		Type:       payment.PatternRetryStorm,
		Severity:   0.29,
		Confidence: 0.9,
	}
	taken, rollbacks, denials := c.decideAndActStage(context.Background(), observer.Summary{}, []reasoner.Pattern{low})

	require.Empty(t, taken)
	require.Empty(t, rollbacks)
	require.Empty(t, denials, "a sub-threshold-severity pattern should never reach a decision, so it can't produce a denial either")
}

func TestRunCycleAdvancesCounterEachInvocation(t *testing.T) {
	c := newTestLoop()

	c.RunCycle(context.Background())
	c.RunCycle(context.Background())
	result := c.RunCycle(context.Background())

	require.Equal(t, 3, result.Cycle)
	require.Equal(t, 3, c.Cycle())
}

// TestRunCycleDetectsExecutesAndRollsBack exercises the full pipeline: a
// retry-storm pattern is detected from ingested traffic, the Decision
// Maker picks adjust_retry (automatic authorization, no approver needed),
// the Executor applies it, and a later cycle's regressed success rate
// rolls it back and feeds the outcome to the Learner.
func TestRunCycleDetectsExecutesAndRollsBack(t *testing.T) {
	c := newTestLoop()

	for i := 0; i < 55; i++ {
		require.NoError(t, c.Ingest(txn(fmt.Sprintf("ok_%d", i), payment.StatusSuccess, false)))
	}
	for i := 0; i < 45; i++ {
		require.NoError(t, c.Ingest(txn(fmt.Sprintf("retry_%d", i), payment.StatusSuccess, true)))
	}

	first := c.RunCycle(context.Background())
	require.Empty(t, first.Error)

	var stormPattern *reasoner.Pattern
	for i := range first.PatternsDetected {
		if first.PatternsDetected[i].Type == payment.PatternRetryStorm {
			stormPattern = &first.PatternsDetected[i]
		}
	}
	require.NotNil(t, stormPattern, "expected a retry_storm pattern from 45/100 retry traffic")

	var retryAction *decisionmaker.Action
	for _, a := range first.ActionsTaken {
		if a.Type == payment.ActionAdjustRetry {
			retryAction = a
		}
	}
	require.NotNil(t, retryAction, "expected adjust_retry to execute automatically")
	require.Equal(t, decisionmaker.StatusExecuted, retryAction.Status)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Ingest(txn(fmt.Sprintf("fail_%d", i), payment.StatusFailed, false)))
	}

	second := c.RunCycle(context.Background())
	require.Empty(t, second.Error)
	require.Len(t, second.RollbacksExecuted, 1)
	require.Equal(t, retryAction.ID, second.RollbacksExecuted[0].ActionID)
	require.Equal(t, decisionmaker.StatusRolledBack, retryAction.Status)

	require.Equal(t, 1, second.LearningUpdates.TotalOutcomes)

	acc := c.learner.PatternAccuracy(payment.PatternRetryStorm)
	require.Equal(t, 1, acc.FalsePositives)
}

func TestRunCycleWeightTuningFiresOnCadence(t *testing.T) {
	c := newTestLoop()

	var cycle int
	for !learner.ShouldUpdateWeights(cycle) {
		c.RunCycle(context.Background())
		cycle = c.Cycle()
	}

	after := c.decisionMaker.Weights()
	require.InDelta(t, 1.0, after.SuccessRate+after.Latency+after.Cost+after.Risk, 1e-9)
}

func TestStartStopHonoursContextCancellation(t *testing.T) {
	c := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, c.Running, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
	require.False(t, c.Running())
}

func TestStopEndsLoopBeforeNextTick(t *testing.T) {
	c := newTestLoop()
	c.interval = time.Hour

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, c.Running, time.Second, time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not end the loop")
	}
}
