package decisionmaker

import (
	"math"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// Weights are the default multi-objective weights (spec.md §4.3), held
// mutably here so the Learner's updateDecisionWeights can tune them.
type Weights struct {
	SuccessRate float64
	Latency     float64
	Cost        float64
	Risk        float64
}

// DefaultWeights returns spec.md §4.3's literal starting weights.
func DefaultWeights() Weights {
	return Weights{SuccessRate: 0.40, Latency: 0.25, Cost: 0.20, Risk: 0.15}
}

// riskLimits maps a risk level to the affected-traffic ceiling spec.md
// §4.3's riskScore formula excess/limit term uses.
var riskLimits = map[payment.RiskLevel]float64{
	payment.RiskLow:      0.05,
	payment.RiskMedium:   0.10,
	payment.RiskHigh:     0.20,
	payment.RiskCritical: 1.00,
}

var riskBase = map[payment.RiskLevel]float64{
	payment.RiskLow:      1.0,
	payment.RiskMedium:   0.7,
	payment.RiskHigh:     0.4,
	payment.RiskCritical: 0.1,
}

// successScore implements spec.md §4.3's piecewise success-rate objective.
func successScore(deltaSuccess, severity float64) float64 {
	if deltaSuccess > 0 {
		return math.Min(deltaSuccess/0.20*severity, 1)
	}
	v := 1 + deltaSuccess/0.10
	if v < 0 {
		return 0
	}
	return v
}

// latencyScore implements spec.md §4.3's latency objective: a negative
// delta (faster) is good, a positive delta (slower) is bad, both scaled
// against max(current, 100)ms.
func latencyScore(deltaLatencyMs, currentLatencyMs float64) float64 {
	denom := math.Max(currentLatencyMs, 100)
	if deltaLatencyMs < 0 {
		return math.Min(math.Abs(deltaLatencyMs)/denom*2, 1)
	}
	v := 1 - deltaLatencyMs/denom
	if v < 0 {
		return 0
	}
	return v
}

// costScore implements spec.md §4.3's piecewise cost objective.
func costScore(deltaCostPerTxn float64) float64 {
	switch {
	case deltaCostPerTxn <= 0:
		return 1.0
	case deltaCostPerTxn <= 0.02:
		return 0.8
	case deltaCostPerTxn <= 0.05:
		return 0.5
	default:
		return 0.2
	}
}

// riskScore implements spec.md §4.3's risk objective: a base score per
// risk tier, discounted when affected traffic exceeds that tier's limit,
// and discounted again when a rollback has happened in the last hour.
func riskScore(risk payment.RiskLevel, affectedTrafficPct float64, rollbacksLastHour int) float64 {
	base := riskBase[risk]
	limit := riskLimits[risk]
	if limit > 0 && affectedTrafficPct > limit {
		excess := affectedTrafficPct - limit
		base *= math.Max(0, 1-excess/limit)
	}
	if rollbacksLastHour > 0 {
		base *= 0.8
	}
	return base
}

// Score implements spec.md §4.3's overall formula:
// score = confidence * sum(w_i * objective_i).
func Score(a *Action, weights Weights, severity float64, currentLatencyMs float64, rollbacksLastHour int) float64 {
	ss := successScore(a.EstimatedImpact.SuccessRateDelta, severity)
	ls := latencyScore(a.EstimatedImpact.LatencyDeltaMs, currentLatencyMs)
	cs := costScore(a.EstimatedImpact.CostDeltaPerTxn)
	rs := riskScore(a.RiskLevel, a.EstimatedImpact.AffectedTrafficPct, rollbacksLastHour)

	weighted := weights.SuccessRate*ss + weights.Latency*ls + weights.Cost*cs + weights.Risk*rs
	return a.Confidence * weighted
}

// Normalize rescales weights to sum to 1, preserving their relative
// proportions (spec.md §4.5's weight-tuning postcondition).
func (w Weights) Normalize() Weights {
	sum := w.SuccessRate + w.Latency + w.Cost + w.Risk
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		SuccessRate: w.SuccessRate / sum,
		Latency:     w.Latency / sum,
		Cost:        w.Cost / sum,
		Risk:        w.Risk / sum,
	}
}
