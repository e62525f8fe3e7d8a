package decisionmaker

import (
	"github.com/mbd888/remediation-agent/internal/idgen"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

// defaultInterventionDurationMinutes is the "typically 10-30 min; default
// 30" value spec.md §4.4 names for monitor-and-rollback's duration trigger.
const defaultInterventionDurationMinutes = 30

// inactionPenaltyFactor scales the opportunity-cost success delta applied
// to candidates that do not remediate anything (no_action, alert_ops): a
// detected pattern left unaddressed does not recover on its own, so its
// successScore must fall with severity rather than read as a neutral 1.0.
const inactionPenaltyFactor = 0.10

func inactionSuccessDelta(p reasoner.Pattern) float64 {
	return -inactionPenaltyFactor * p.Severity
}

// affectedTrafficFraction estimates the share of in-window traffic a
// pattern's own volume metric represents, given the cycle's total.
func affectedTrafficFraction(p reasoner.Pattern, totalVolume int64) float64 {
	if totalVolume <= 0 {
		return 0
	}
	v, ok := p.Metrics["volume"]
	if !ok {
		return 0
	}
	return v / float64(totalVolume)
}

// generateCandidates builds spec.md §4.3's "typically 1-2 domain-specific
// plus always a no_action and an alert_ops" candidate set for a pattern.
func generateCandidates(p reasoner.Pattern, totalVolume int64) []*Action {
	traffic := affectedTrafficFraction(p, totalVolume)
	var out []*Action

	switch p.Type {
	case payment.PatternIssuerDegradation:
		out = append(out, newCircuitBreakerCandidate(p, traffic))
	case payment.PatternRetryStorm:
		out = append(out, newAdjustRetryCandidate(p, traffic))
	case payment.PatternMethodFatigue:
		out = append(out, newMethodSuppressCandidate(p, traffic))
	case payment.PatternLatencySpike:
		out = append(out, newRouteChangeCandidate(p, traffic))
	case payment.PatternErrorCluster:
		out = append(out, newAdjustRetryForErrorCluster(p, traffic))
	case payment.PatternGeographicIssue:
		out = append(out, newRouteChangeCandidate(p, traffic))
	}

	out = append(out, newAlertOpsCandidate(p, traffic))
	out = append(out, newNoActionCandidate(p))
	return out
}

func baseAction(p reasoner.Pattern, actionType payment.ActionType, target string, risk payment.RiskLevel, confidenceFactor float64) *Action {
	return &Action{
		ID:         idgen.WithPrefix("act_"),
		Type:       actionType,
		Target:     target,
		RiskLevel:  risk,
		Confidence: p.Confidence * confidenceFactor,
		Status:     StatusPending,
	}
}

func newCircuitBreakerCandidate(p reasoner.Pattern, traffic float64) *Action {
	a := baseAction(p, payment.ActionCircuitBreaker, p.AffectedValue, payment.RiskMedium, 0.9)
	a.Parameters.CircuitBreaker = &CircuitBreakerParams{
		Issuer:          p.AffectedValue,
		DurationMinutes: defaultInterventionDurationMinutes,
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   p.Metrics["gap"] * 0.7,
		LatencyDeltaMs:     0,
		CostDeltaPerTxn:    0.01,
		AffectedTrafficPct: traffic,
	}
	return a
}

func newAdjustRetryCandidate(p reasoner.Pattern, traffic float64) *Action {
	a := baseAction(p, payment.ActionAdjustRetry, "global_retry_strategy", payment.RiskLow, 0.85)
	a.Parameters.AdjustRetry = &AdjustRetryParams{
		MaxRetries:        2,
		BackoffMultiplier: 2.0,
		TimeoutMs:         5000,
		DurationMinutes:   defaultInterventionDurationMinutes,
		ScopeTag:          "global_retry_strategy",
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   p.Metrics["retryRatio"] * 0.25,
		LatencyDeltaMs:     50,
		CostDeltaPerTxn:    -0.01,
		AffectedTrafficPct: traffic,
	}
	return a
}

func newAdjustRetryForErrorCluster(p reasoner.Pattern, traffic float64) *Action {
	a := baseAction(p, payment.ActionAdjustRetry, "error:"+p.AffectedValue, payment.RiskLow, 0.8)
	a.Parameters.AdjustRetry = &AdjustRetryParams{
		MaxRetries:        1,
		BackoffMultiplier: 1.5,
		TimeoutMs:         3000,
		DurationMinutes:   defaultInterventionDurationMinutes,
		ScopeTag:          "error:" + p.AffectedValue,
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   p.Metrics["errorRate"] * 0.4,
		LatencyDeltaMs:     20,
		CostDeltaPerTxn:    0,
		AffectedTrafficPct: traffic,
	}
	return a
}

func newRouteChangeCandidate(p reasoner.Pattern, traffic float64) *Action {
	a := baseAction(p, payment.ActionRouteChange, p.AffectedValue, payment.RiskMedium, 0.85)
	a.Parameters.RouteChange = &RouteChangeParams{
		AlternativeRouting: "secondary",
		ReduceRoutingPct:   0.5,
		DurationMinutes:    defaultInterventionDurationMinutes,
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   p.Severity * 0.15,
		LatencyDeltaMs:     -p.Metrics["baselineLatencyMs"] * 0.2,
		CostDeltaPerTxn:    0.02,
		AffectedTrafficPct: traffic,
	}
	return a
}

func newMethodSuppressCandidate(p reasoner.Pattern, traffic float64) *Action {
	method := payment.Method(p.AffectedValue)
	a := baseAction(p, payment.ActionMethodSuppress, p.AffectedValue, payment.RiskHigh, 0.8)
	a.Parameters.MethodSuppress = &MethodSuppressParams{
		PaymentMethod:   method,
		DurationMinutes: defaultInterventionDurationMinutes,
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   p.Metrics["gap"] * 0.6,
		LatencyDeltaMs:     0,
		CostDeltaPerTxn:    0.03,
		AffectedTrafficPct: traffic,
	}
	return a
}

func newAlertOpsCandidate(p reasoner.Pattern, traffic float64) *Action {
	a := baseAction(p, payment.ActionAlertOps, string(p.Type), payment.RiskLow, 1.0)
	a.Parameters.AlertOps = &AlertOpsParams{
		PatternType: p.Type,
		Severity:    p.Severity,
		Description: p.Description,
	}
	a.EstimatedImpact = EstimatedImpact{
		SuccessRateDelta:   inactionSuccessDelta(p),
		AffectedTrafficPct: traffic,
	}
	return a
}

func newNoActionCandidate(p reasoner.Pattern) *Action {
	a := baseAction(p, payment.ActionNone, string(p.Type), payment.RiskLow, 1.0)
	a.EstimatedImpact = EstimatedImpact{SuccessRateDelta: inactionSuccessDelta(p)}
	return a
}
