package decisionmaker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

func issuerDegradationPattern() reasoner.Pattern {
	return reasoner.Pattern{
		ID:                "pat_1",
		Type:              payment.PatternIssuerDegradation,
		Description:       "HDFC success rate dropped",
		Severity:          0.8,
		Confidence:        0.9,
		AffectedDimension: "issuer",
		AffectedValue:     "HDFC",
		Metrics: map[string]float64{
			"gap":                 0.25,
			"volume":              100,
			"baselineSuccessRate": 0.95,
			"currentSuccessRate":  0.70,
			"avgLatencyMs":        220,
		},
	}
}

func baseContext(p reasoner.Pattern) Context {
	return Context{
		Pattern:          p,
		TotalVolume:      1000,
		OverallLatencyMs: 220,
		ActiveCount:      0,
		Limits:           agentstate.DefaultLimits(),
		State: agentstate.Snapshot{
			OverallSuccessRate: 0.95,
			AverageLatencyMs:   220,
		},
	}
}

func TestDecideReturnsTopScoringCandidateWhenAllowed(t *testing.T) {
	d := New()
	outcome := d.Decide(baseContext(issuerDegradationPattern()))

	require.NotNil(t, outcome.Action)
	require.Equal(t, payment.ActionCircuitBreaker, outcome.Action.Type)
	require.NotEmpty(t, outcome.Action.Reasoning)
	require.Equal(t, StatusPending, outcome.Action.Status)
}

func TestDecideBlocksHighRiskActionAfterRecentRollbacks(t *testing.T) {
	d := New()
	ctx := baseContext(issuerDegradationPattern())
	ctx.State.RollbacksLastHour = agentstate.DefaultHighRiskRollbackCap

	// method_suppress is always high risk (spec.md §4.6). Severity must be
	// high enough that its successScore clears the inaction penalty applied
	// to no_action/alert_ops, or one of those would out-rank it and never
	// reach the gate at all.
	pattern := issuerDegradationPattern()
	pattern.Type = payment.PatternMethodFatigue
	pattern.AffectedValue = string(payment.MethodUPI)
	pattern.Severity = 1.0
	pattern.Metrics["gap"] = 0.3
	pattern.Metrics["volume"] = 100
	ctx.Pattern = pattern

	outcome := d.Decide(ctx)
	require.Nil(t, outcome.Action)
	require.Equal(t, "High-risk action blocked due to recent rollbacks", outcome.Reason)
}

func TestDecideAllowsNoActionRegardlessOfGating(t *testing.T) {
	d := New()
	pattern := issuerDegradationPattern()
	pattern.Metrics["gap"] = 0.0001 // trivial effect so no_action scores highest
	ctx := baseContext(pattern)
	ctx.State.ActionsTakenLastHour = agentstate.DefaultActionsPerHourCap // hourly cap exhausted

	outcome := d.Decide(ctx)
	require.NotNil(t, outcome.Action)
	require.Equal(t, payment.ActionNone, outcome.Action.Type)
}

func TestDecideBlocksWhenConfidenceBelowMinimum(t *testing.T) {
	d := New()
	pattern := issuerDegradationPattern()
	pattern.Confidence = 0.1
	// make no_action score low relative to circuit_breaker by keeping a
	// sizable gap, so the top candidate is the low-confidence one.
	ctx := baseContext(pattern)

	outcome := d.Decide(ctx)
	require.Nil(t, outcome.Action)
	require.Equal(t, "Action confidence below minimum threshold", outcome.Reason)
}

func TestDecideBlocksWhenScoreBelowMinimum(t *testing.T) {
	d := New()
	pattern := issuerDegradationPattern()
	ctx := baseContext(pattern)
	ctx.Limits.MinScoreForAction = 1.1 // unreachable, forces the gate

	outcome := d.Decide(ctx)
	require.Nil(t, outcome.Action)
	require.Equal(t, "Action score below minimum threshold", outcome.Reason)
}

func TestScoreRewardsLowerRiskAllElseEqual(t *testing.T) {
	weights := DefaultWeights()
	impact := EstimatedImpact{SuccessRateDelta: 0.1, LatencyDeltaMs: -10, CostDeltaPerTxn: 0, AffectedTrafficPct: 0.02}

	low := &Action{RiskLevel: payment.RiskLow, Confidence: 0.9, EstimatedImpact: impact}
	high := &Action{RiskLevel: payment.RiskHigh, Confidence: 0.9, EstimatedImpact: impact}

	lowScore := Score(low, weights, 0.8, 200, 0)
	highScore := Score(high, weights, 0.8, 200, 0)
	require.Greater(t, lowScore, highScore)
}

func TestCostScorePiecewise(t *testing.T) {
	require.Equal(t, 1.0, costScore(-0.01))
	require.Equal(t, 0.8, costScore(0.02))
	require.Equal(t, 0.5, costScore(0.05))
	require.Equal(t, 0.2, costScore(0.10))
}

func TestWeightsNormalizeSumsToOne(t *testing.T) {
	w := Weights{SuccessRate: 2, Latency: 1, Cost: 1, Risk: 0}
	n := w.Normalize()
	require.InDelta(t, 1.0, n.SuccessRate+n.Latency+n.Cost+n.Risk, 1e-9)
}

func TestGenerateCandidatesAlwaysIncludesAlertOpsAndNoAction(t *testing.T) {
	candidates := generateCandidates(issuerDegradationPattern(), 1000)

	var sawAlert, sawNoAction bool
	for _, c := range candidates {
		switch c.Type {
		case payment.ActionAlertOps:
			sawAlert = true
		case payment.ActionNone:
			sawNoAction = true
		}
	}
	require.True(t, sawAlert)
	require.True(t, sawNoAction)
}

func TestSetWeightsIsObservedByDecide(t *testing.T) {
	d := New()
	custom := Weights{SuccessRate: 0.1, Latency: 0.1, Cost: 0.1, Risk: 0.7}
	d.SetWeights(custom)
	require.Equal(t, custom, d.Weights())
}
