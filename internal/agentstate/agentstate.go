// Package agentstate owns the control loop's single mutable control
// surface: the live circuit breakers, suppressed methods, retry
// strategies, and routing overrides every other component only reads.
// Only the Executor (and Executor-driven rollback) may mutate it
// (spec.md §5, §9 "Global mutable state").
package agentstate

import (
	"sync"
	"time"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// RetryStrategy is the per-target retry override an adjust_retry action
// installs (spec.md §4.4).
type RetryStrategy struct {
	MaxRetries        int
	BackoffMultiplier float64
	TimeoutMs         int
	AppliedAt         time.Time
}

// RoutingOverride is the per-target routing policy a route_change action
// installs (spec.md §4.4).
type RoutingOverride struct {
	AlternativeRouting string
	ReduceRoutingPct   float64
	AppliedAt          time.Time
}

// Snapshot is a read-only copy of AgentState for components that only
// observe it (Reasoner, Decision Maker, Learner).
type Snapshot struct {
	ActiveCircuitBreakers map[string]bool
	SuppressedMethods     map[payment.Method]bool
	RetryStrategies       map[string]RetryStrategy
	RoutingOverrides      map[string]RoutingOverride

	ActionsTakenLastHour int
	RollbacksLastHour    int
	ActionsExecuted      int
	ActionsSuccessful    int
	PatternsDetected     int
	TruePositives        int
	FalsePositives       int

	OverallSuccessRate float64
	AverageLatencyMs   float64
}

// AgentState is the process-wide mutable control surface (spec.md §3).
type AgentState struct {
	mu sync.RWMutex

	activeCircuitBreakers map[string]bool
	suppressedMethods     map[payment.Method]bool
	retryStrategies       map[string]RetryStrategy
	routingOverrides      map[string]RoutingOverride

	actionsTakenLastHour int
	rollbacksLastHour    int
	actionsExecuted      int
	actionsSuccessful    int
	patternsDetected     int
	truePositives        int
	falsePositives       int

	overallSuccessRate float64
	averageLatencyMs   float64
}

// New creates an empty AgentState.
func New() *AgentState {
	return &AgentState{
		activeCircuitBreakers: make(map[string]bool),
		suppressedMethods:     make(map[payment.Method]bool),
		retryStrategies:       make(map[string]RetryStrategy),
		routingOverrides:      make(map[string]RoutingOverride),
		overallSuccessRate:    1.0,
	}
}

// Snapshot returns a deep copy, safe for the caller to read without
// holding any lock (mirrors risk.MemoryStore's copy-on-read convention).
func (a *AgentState) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		ActiveCircuitBreakers: make(map[string]bool, len(a.activeCircuitBreakers)),
		SuppressedMethods:     make(map[payment.Method]bool, len(a.suppressedMethods)),
		RetryStrategies:       make(map[string]RetryStrategy, len(a.retryStrategies)),
		RoutingOverrides:      make(map[string]RoutingOverride, len(a.routingOverrides)),
		ActionsTakenLastHour:  a.actionsTakenLastHour,
		RollbacksLastHour:     a.rollbacksLastHour,
		ActionsExecuted:       a.actionsExecuted,
		ActionsSuccessful:     a.actionsSuccessful,
		PatternsDetected:      a.patternsDetected,
		TruePositives:         a.truePositives,
		FalsePositives:        a.falsePositives,
		OverallSuccessRate:    a.overallSuccessRate,
		AverageLatencyMs:      a.averageLatencyMs,
	}
	for k, v := range a.activeCircuitBreakers {
		s.ActiveCircuitBreakers[k] = v
	}
	for k, v := range a.suppressedMethods {
		s.SuppressedMethods[k] = v
	}
	for k, v := range a.retryStrategies {
		s.RetryStrategies[k] = v
	}
	for k, v := range a.routingOverrides {
		s.RoutingOverrides[k] = v
	}
	return s
}

// AddCircuitBreaker adds issuer to the active set. Idempotent.
func (a *AgentState) AddCircuitBreaker(issuer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeCircuitBreakers[issuer] = true
}

// RemoveCircuitBreaker discards issuer from the active set. Idempotent.
func (a *AgentState) RemoveCircuitBreaker(issuer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.activeCircuitBreakers, issuer)
}

// HasCircuitBreaker reports whether issuer currently has an active
// breaker.
func (a *AgentState) HasCircuitBreaker(issuer string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeCircuitBreakers[issuer]
}

// MergeRetryStrategy merges the provided fields into target's retry
// strategy (spec.md §4.4: "merge provided fields"). Zero values in
// overlay are treated as "not provided" and left unmerged.
func (a *AgentState) MergeRetryStrategy(target string, overlay RetryStrategy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.retryStrategies[target]
	if overlay.MaxRetries != 0 {
		cur.MaxRetries = overlay.MaxRetries
	}
	if overlay.BackoffMultiplier != 0 {
		cur.BackoffMultiplier = overlay.BackoffMultiplier
	}
	if overlay.TimeoutMs != 0 {
		cur.TimeoutMs = overlay.TimeoutMs
	}
	cur.AppliedAt = overlay.AppliedAt
	a.retryStrategies[target] = cur
}

// RemoveRetryStrategy deletes target's retry strategy entry.
func (a *AgentState) RemoveRetryStrategy(target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.retryStrategies, target)
}

// SetRoutingOverride replaces target's routing override wholesale.
func (a *AgentState) SetRoutingOverride(target string, override RoutingOverride) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routingOverrides[target] = override
}

// RemoveRoutingOverride deletes target's routing override.
func (a *AgentState) RemoveRoutingOverride(target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.routingOverrides, target)
}

// SuppressMethod adds method to the suppressed set.
func (a *AgentState) SuppressMethod(method payment.Method) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suppressedMethods[method] = true
}

// UnsuppressMethod removes method from the suppressed set.
func (a *AgentState) UnsuppressMethod(method payment.Method) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.suppressedMethods, method)
}

// RecordActionExecuted increments the executed and hourly-taken counters.
func (a *AgentState) RecordActionExecuted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actionsExecuted++
	a.actionsTakenLastHour++
}

// RecordActionSuccessful increments the successful-completion counter.
func (a *AgentState) RecordActionSuccessful() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actionsSuccessful++
}

// RecordRollback increments the rollback counter. Invariant (spec.md §3):
// rollbacksLastHour <= actionsExecuted always holds because a rollback can
// only target a previously executed action.
func (a *AgentState) RecordRollback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollbacksLastHour++
}

// RecordPatternDetected increments the detected-pattern counter.
func (a *AgentState) RecordPatternDetected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patternsDetected++
}

// RecordEvaluation records a true/false positive signal for a completed or
// rolled-back intervention (reported by the Learner's RecordOutcome).
func (a *AgentState) RecordEvaluation(truePositive bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if truePositive {
		a.truePositives++
	} else {
		a.falsePositives++
	}
}

// UpdateAggregateMetrics refreshes the overall success-rate/latency
// gauges the Observer reports each cycle.
func (a *AgentState) UpdateAggregateMetrics(successRate, avgLatencyMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.overallSuccessRate = successRate
	a.averageLatencyMs = avgLatencyMs
}
