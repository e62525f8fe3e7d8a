package agentstate

import "github.com/mbd888/remediation-agent/internal/payment"

// Safety limits (spec.md §4.6). Config can override these via Limits.
const (
	DefaultActionsPerHourCap         = 50
	DefaultRollbacksPerHourCap       = 10
	DefaultHighRiskRollbackCap       = 3
	DefaultMinConfidence             = 0.6
	DefaultMinScoreForAction         = 0.5
	DefaultMaxConcurrentIntervention = 5
)

// Traffic-impact escalation breakpoints (spec.md §4.6).
const (
	escalateSemiAutomaticTrafficPct = 0.05
	escalateManualTrafficPct        = 0.20
)

// Limits bundles the configurable safety gates so they can be constructed
// once from internal/config and passed to every canTakeAction check.
type Limits struct {
	ActionsPerHourCap         int
	RollbacksPerHourCap       int
	HighRiskRollbackCap       int
	MinConfidence             float64
	MinScoreForAction         float64
	MaxConcurrentIntervention int
}

// DefaultLimits returns spec.md §4.6's literal values.
func DefaultLimits() Limits {
	return Limits{
		ActionsPerHourCap:         DefaultActionsPerHourCap,
		RollbacksPerHourCap:       DefaultRollbacksPerHourCap,
		HighRiskRollbackCap:       DefaultHighRiskRollbackCap,
		MinConfidence:             DefaultMinConfidence,
		MinScoreForAction:         DefaultMinScoreForAction,
		MaxConcurrentIntervention: DefaultMaxConcurrentIntervention,
	}
}

// baseAuthorization is the fixed action-type -> authorization mapping
// spec.md §4.6 specifies before traffic-impact escalation.
var baseAuthorization = map[payment.ActionType]payment.AuthorizationLevel{
	payment.ActionAdjustRetry:    payment.AuthAutomatic,
	payment.ActionAlertOps:       payment.AuthAutomatic,
	payment.ActionCircuitBreaker: payment.AuthSemiAutomatic,
	payment.ActionRouteChange:    payment.AuthSemiAutomatic,
	payment.ActionMethodSuppress: payment.AuthManual,
	payment.ActionNone:           payment.AuthAutomatic,
}

// EscalateAuthorization returns the action type's base authorization level
// escalated by affected-traffic percentage (spec.md §4.6: above 5%,
// automatic becomes semi_automatic; above 20%, forced to manual).
func EscalateAuthorization(actionType payment.ActionType, affectedTrafficPct float64) payment.AuthorizationLevel {
	level := baseAuthorization[actionType]
	if affectedTrafficPct > escalateManualTrafficPct {
		return payment.AuthManual
	}
	if affectedTrafficPct > escalateSemiAutomaticTrafficPct && level == payment.AuthAutomatic {
		return payment.AuthSemiAutomatic
	}
	return level
}

// GateResult reports whether canTakeAction allowed the action, and if not,
// a single-sentence reason (spec.md §7 "every blocked action surfaces a
// single-sentence reason").
type GateResult struct {
	Allowed bool
	Reason  string
}

// allow is the shared "no objection" result.
func allow() GateResult { return GateResult{Allowed: true} }

func deny(reason string) GateResult { return GateResult{Allowed: false, Reason: reason} }

// evaluateGates is the pure spec.md §4.6 rule set, shared by CanTakeAction
// (reading the live AgentState) and EvaluateSnapshot (reading a read-only
// Snapshot, for the Decision Maker which never holds a write handle).
func evaluateGates(actionsTakenLastHour, rollbacksLastHour int, riskLevel payment.RiskLevel, confidence, score float64, activeInterventions int, limits Limits) GateResult {
	if actionsTakenLastHour >= limits.ActionsPerHourCap {
		return deny("Hourly action limit reached")
	}
	if rollbacksLastHour >= limits.RollbacksPerHourCap {
		return deny("Hourly rollback limit reached")
	}
	if (riskLevel == payment.RiskHigh || riskLevel == payment.RiskCritical) &&
		rollbacksLastHour >= limits.HighRiskRollbackCap {
		return deny("High-risk action blocked due to recent rollbacks")
	}
	if confidence < limits.MinConfidence {
		return deny("Action confidence below minimum threshold")
	}
	if limits.MinScoreForAction > 0 && score < limits.MinScoreForAction {
		return deny("Action score below minimum threshold")
	}
	if activeInterventions >= limits.MaxConcurrentIntervention {
		return deny("Maximum concurrent interventions reached")
	}
	return allow()
}

// CanTakeAction runs every spec.md §4.6 gate against the live AgentState
// for a candidate action described by its risk level, confidence, weighted
// score, and number of currently active interventions.
func (a *AgentState) CanTakeAction(riskLevel payment.RiskLevel, confidence, score float64, activeInterventions int, limits Limits) GateResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return evaluateGates(a.actionsTakenLastHour, a.rollbacksLastHour, riskLevel, confidence, score, activeInterventions, limits)
}

// EvaluateSnapshot runs the same spec.md §4.6 gates against a previously
// captured read-only Snapshot, for callers (the Decision Maker) that must
// never hold a write handle on the live AgentState.
func EvaluateSnapshot(s Snapshot, riskLevel payment.RiskLevel, confidence, score float64, activeInterventions int, limits Limits) GateResult {
	return evaluateGates(s.ActionsTakenLastHour, s.RollbacksLastHour, riskLevel, confidence, score, activeInterventions, limits)
}
