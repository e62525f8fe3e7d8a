// Package decisionmaker generates candidate remediation actions for a
// detected Pattern, scores them by a weighted multi-objective function,
// and picks the best feasible candidate under the current safety gates.
package decisionmaker

import (
	"time"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// ActionStatus is the Action lifecycle state (spec.md §3).
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusExecuted   ActionStatus = "executed"
	StatusCompleted  ActionStatus = "completed"
	StatusRolledBack ActionStatus = "rolled_back"
	StatusFailed     ActionStatus = "failed"
)

// EstimatedImpact is the Decision Maker's projected effect of an action
// (spec.md §3/§6), and also the shape actualImpact takes once the Learner
// measures it.
type EstimatedImpact struct {
	SuccessRateDelta   float64
	LatencyDeltaMs     float64
	CostDeltaPerTxn    float64
	AffectedTrafficPct float64
}

// CircuitBreakerParams is the adjust schema for action type circuit_breaker
// (spec.md §6).
type CircuitBreakerParams struct {
	Issuer          string
	DurationMinutes int
	RouteTo         string
}

// AdjustRetryParams is the adjust schema for action type adjust_retry
// (spec.md §6).
type AdjustRetryParams struct {
	MaxRetries        int
	BackoffMultiplier float64
	TimeoutMs         int
	DurationMinutes   int
	PaymentMethod     payment.Method // optional scoping
	ScopeTag          string         // optional scoping, e.g. "global_retry_strategy"
}

// RouteChangeParams is the adjust schema for action type route_change
// (spec.md §6).
type RouteChangeParams struct {
	AlternativeRouting string
	ReduceRoutingPct   float64
	DurationMinutes    int
}

// MethodSuppressParams is the adjust schema for action type
// method_suppress (spec.md §6).
type MethodSuppressParams struct {
	PaymentMethod   payment.Method
	DurationMinutes int
}

// AlertOpsParams is the adjust schema for action type alert_ops (spec.md
// §6).
type AlertOpsParams struct {
	PatternType payment.PatternType
	Severity    float64
	Description string
}

// Parameters is the tagged union over the six action types (spec.md §9:
// "closed variant set ... not an open key-value map"). At most one field
// is populated, matching Type; a no_action candidate populates none.
type Parameters struct {
	CircuitBreaker *CircuitBreakerParams
	AdjustRetry    *AdjustRetryParams
	RouteChange    *RouteChangeParams
	MethodSuppress *MethodSuppressParams
	AlertOps       *AlertOpsParams
}

// Action is a candidate or live remediation action (spec.md §3).
type Action struct {
	ID                 string
	Type               payment.ActionType
	Target             string
	Parameters         Parameters
	RiskLevel          payment.RiskLevel
	AuthorizationLevel payment.AuthorizationLevel
	EstimatedImpact    EstimatedImpact
	Reasoning          string
	Confidence         float64
	CreatedAt          time.Time
	ExecutedAt         *time.Time
	CompletedAt        *time.Time
	Status             ActionStatus
	Approver           string
	ActualImpact       *EstimatedImpact

	// Score is the candidate's multi-objective score (not part of
	// spec.md's §3 schema). Used for ranking, the MinScoreForAction gate,
	// and reasoning text / test inspection.
	Score float64
}
