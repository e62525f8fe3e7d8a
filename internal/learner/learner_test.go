package learner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/executor"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

func completedAction() *decisionmaker.Action {
	return &decisionmaker.Action{
		ID:        "act_1",
		Type:      payment.ActionCircuitBreaker,
		Target:    "HDFC",
		RiskLevel: payment.RiskLow,
		Status:    decisionmaker.StatusCompleted,
		EstimatedImpact: decisionmaker.EstimatedImpact{
			SuccessRateDelta: 0.10,
			LatencyDeltaMs:   -20,
			CostDeltaPerTxn:  0,
		},
	}
}

func TestRecordOutcomeComputesActualImpactAndPredictionError(t *testing.T) {
	l := New(nil)
	a := completedAction()
	baseline := executor.Snapshot{SuccessRate: 0.80, AvgLatencyMs: 250, CostPerTxn: 0.30}
	actual := executor.Snapshot{SuccessRate: 0.85, AvgLatencyMs: 230, CostPerTxn: 0.30}

	rec := l.RecordOutcome(payment.PatternIssuerDegradation, a, baseline, actual)

	require.InDelta(t, 0.05, rec.Actual.SuccessRateDelta, 1e-9)
	require.InDelta(t, -20, rec.Actual.LatencyDeltaMs, 1e-9)
	require.NotNil(t, a.ActualImpact)
	require.InDelta(t, 0.05, a.ActualImpact.SuccessRateDelta, 1e-9)

	// successRate term: |0.05-0.10|/0.10 = 0.5; latency term: |-20-(-20)|/20 = 0
	require.InDelta(t, 0.25, rec.PredictionError, 1e-9)
}

func TestRecordOutcomeRolledBackCountsAsFalsePositive(t *testing.T) {
	state := agentstate.New()
	l := New(state)
	a := completedAction()
	a.Status = decisionmaker.StatusRolledBack

	l.RecordOutcome(payment.PatternIssuerDegradation, a, executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.70})

	acc := l.PatternAccuracy(payment.PatternIssuerDegradation)
	require.Equal(t, 0, acc.TruePositives)
	require.Equal(t, 1, acc.FalsePositives)
}

func TestRecordOutcomeImprovedCompletionCountsAsTruePositive(t *testing.T) {
	l := New(nil)
	a := completedAction()

	l.RecordOutcome(payment.PatternIssuerDegradation, a, executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})

	acc := l.PatternAccuracy(payment.PatternIssuerDegradation)
	require.Equal(t, 1, acc.TruePositives)
	require.Equal(t, 0, acc.FalsePositives)
}

func TestActionEffectivenessRequiresMinimumSamples(t *testing.T) {
	l := New(nil)
	for i := 0; i < 2; i++ {
		l.RecordOutcome(payment.PatternIssuerDegradation, completedAction(), executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})
	}
	_, ok := l.ActionEffectiveness(payment.ActionCircuitBreaker, "HDFC")
	require.False(t, ok)

	l.RecordOutcome(payment.PatternIssuerDegradation, completedAction(), executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})
	stats, ok := l.ActionEffectiveness(payment.ActionCircuitBreaker, "HDFC")
	require.True(t, ok)
	require.Equal(t, 3, stats.Samples)
	require.InDelta(t, 0.10, stats.MeanSuccessRateDelta, 1e-9)
}

func TestActionEffectivenessAggregatesAcrossTargetsWhenTargetEmpty(t *testing.T) {
	l := New(nil)
	a1 := completedAction()
	a1.Target = "HDFC"
	a2 := completedAction()
	a2.Target = "ICICI"
	a3 := completedAction()
	a3.Target = "SBI"

	for _, a := range []*decisionmaker.Action{a1, a2, a3} {
		l.RecordOutcome(payment.PatternIssuerDegradation, a, executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})
	}

	_, okScoped := l.ActionEffectiveness(payment.ActionCircuitBreaker, "HDFC")
	require.False(t, okScoped)

	stats, ok := l.ActionEffectiveness(payment.ActionCircuitBreaker, "")
	require.True(t, ok)
	require.Equal(t, 3, stats.Samples)
}

func TestRecommendThresholdAdjustmentsLoosensOnLowPrecision(t *testing.T) {
	l := New(nil)
	r := reasoner.New()
	baseline := r.Threshold(payment.PatternIssuerDegradation)

	// 2 false positives, 1 true positive -> precision 1/3 < 0.70
	l.RecordOutcome(payment.PatternIssuerDegradation, &decisionmaker.Action{Type: payment.ActionCircuitBreaker, Status: decisionmaker.StatusRolledBack}, executor.Snapshot{SuccessRate: 0.9}, executor.Snapshot{SuccessRate: 0.8})
	l.RecordOutcome(payment.PatternIssuerDegradation, &decisionmaker.Action{Type: payment.ActionCircuitBreaker, Status: decisionmaker.StatusRolledBack}, executor.Snapshot{SuccessRate: 0.9}, executor.Snapshot{SuccessRate: 0.8})
	l.RecordOutcome(payment.PatternIssuerDegradation, completedAction(), executor.Snapshot{SuccessRate: 0.8}, executor.Snapshot{SuccessRate: 0.9})

	l.RecommendThresholdAdjustments(r)
	require.InDelta(t, baseline*thresholdLoosenFactor, r.Threshold(payment.PatternIssuerDegradation), 1e-9)
}

func TestUpdateDecisionWeightsNudgesTowardConsistentObjectives(t *testing.T) {
	l := New(nil)
	dm := decisionmaker.New()
	before := dm.Weights()

	// Only the successRate estimate is favorable here (latency/cost/risk
	// estimates are all on the unfavorable side), so only its hit rate
	// moves off the neutral 0.5 and only its weight share should grow
	// once the others renormalize around it.
	for i := 0; i < 5; i++ {
		a := completedAction()
		a.EstimatedImpact.LatencyDeltaMs = 10
		a.EstimatedImpact.CostDeltaPerTxn = 0.01
		a.RiskLevel = payment.RiskHigh
		l.RecordOutcome(payment.PatternIssuerDegradation, a, executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})
	}

	l.UpdateDecisionWeights(dm)
	after := dm.Weights()

	require.Greater(t, after.SuccessRate, before.SuccessRate)
	require.InDelta(t, 1.0, after.SuccessRate+after.Latency+after.Cost+after.Risk, 1e-9)
}

func TestShouldUpdateWeightsFiresOnCadence(t *testing.T) {
	require.False(t, ShouldUpdateWeights(0))
	require.False(t, ShouldUpdateWeights(9))
	require.True(t, ShouldUpdateWeights(10))
	require.True(t, ShouldUpdateWeights(20))
}

func TestSummaryReportsPatternAndActionStats(t *testing.T) {
	l := New(nil)
	for i := 0; i < 3; i++ {
		l.RecordOutcome(payment.PatternIssuerDegradation, completedAction(), executor.Snapshot{SuccessRate: 0.80}, executor.Snapshot{SuccessRate: 0.90})
	}
	s := l.Summary()

	require.Equal(t, 3, s.PatternAccuracy[payment.PatternIssuerDegradation].TruePositives)
	stats, ok := s.ActionEffectiveness[payment.ActionCircuitBreaker]
	require.True(t, ok)
	require.Equal(t, 3, stats.Samples)
}
