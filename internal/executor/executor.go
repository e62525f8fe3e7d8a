// Package executor applies a Decision Maker's chosen Action against the
// live AgentState, tracks active interventions, and monitors them for
// rollback (spec.md §4.4). It is the only component permitted to mutate
// AgentState.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// Error taxonomy (spec.md §7): StateConflict, ExecutionFailed, RollbackFailed.
var (
	ErrStateConflict   = errors.New("executor: state conflict")
	ErrExecutionFailed = errors.New("executor: execution failed")
	ErrRollbackFailed  = errors.New("executor: rollback failed")
)

// Rollback trigger thresholds (spec.md §4.4, and SPEC_FULL.md §5's decision
// to wire the optional cost/error-rate triggers rather than leave them out).
const (
	successRateDropTrigger        = 0.05
	latencyIncreaseTrigger        = 0.50
	errorRateIncreaseTrigger      = 0.10
	costIncreaseTrigger           = 0.20
	defaultMonitorDurationMinutes = 30
)

var (
	actionsExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "executor",
		Name:      "actions_executed_total",
		Help:      "Actions successfully executed, by action type.",
	}, []string{"action_type"})

	actionsBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "executor",
		Name:      "actions_blocked_total",
		Help:      "Actions blocked by a pre-execution check, by action type.",
	}, []string{"action_type"})

	rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "executor",
		Name:      "rollbacks_total",
		Help:      "Interventions rolled back, by action type.",
	}, []string{"action_type"})

	activeInterventionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "remediation",
		Subsystem: "executor",
		Name:      "active_interventions",
		Help:      "Currently active (unrolled-back) interventions.",
	})
)

func init() {
	prometheus.MustRegister(actionsExecutedTotal, actionsBlockedTotal, rollbacksTotal, activeInterventionsGauge)
}

// AlertSink receives the synthesized notification text for alert_ops
// actions. The default LogSink just logs it; a pager/chat webhook can
// implement this interface instead.
type AlertSink interface {
	Send(ctx context.Context, subject, body string)
}

// LogSink is the default AlertSink, used when no external notification
// channel is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs the alert at warn level.
func (s *LogSink) Send(_ context.Context, subject, body string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("alert_ops", "subject", subject, "body", body)
}

// Snapshot is the baseline/current figures rollback triggers compare
// against (spec.md §4.4: "successRate, avgLatency, volume, timestamp").
type Snapshot struct {
	SuccessRate  float64
	AvgLatencyMs float64
	Volume       int64
	CostPerTxn   float64
	ErrorRate    float64
	Timestamp    time.Time
}

func snapshotFrom(summary observer.Summary) Snapshot {
	return Snapshot{
		SuccessRate:  summary.Overall.SuccessRate,
		AvgLatencyMs: summary.Overall.Latency.Mean,
		Volume:       summary.Overall.Total,
		CostPerTxn:   summary.Overall.CostPerTxn,
		ErrorRate:    summary.Overall.ErrorRate,
		Timestamp:    time.Now(),
	}
}

// SnapshotFrom builds a Snapshot from an Observer summary, for callers
// (the Learner, via the control loop) that need the same baseline/current
// shape outside of Execute/MonitorAndRollback.
func SnapshotFrom(summary observer.Summary) Snapshot {
	return snapshotFrom(summary)
}

// Record is one entry in the execution log: an executed Action plus the
// baseline snapshot captured at execution time.
type Record struct {
	Action   *decisionmaker.Action
	Baseline Snapshot
}

type interventionKey struct {
	actionType payment.ActionType
	target     string
}

// Executor applies actions against the live AgentState and monitors
// active interventions for rollback.
type Executor struct {
	mu sync.Mutex

	state *agentstate.AgentState
	sink  AlertSink

	activeInterventions map[interventionKey]*Record
	executionLog        []*Record
}

// New creates an Executor bound to state. A nil sink installs the default
// LogSink.
func New(state *agentstate.AgentState, sink AlertSink) *Executor {
	if sink == nil {
		sink = &LogSink{}
	}
	return &Executor{
		state:               state,
		sink:                sink,
		activeInterventions: make(map[interventionKey]*Record),
	}
}

// Execute applies a pre-execution check, then, if allowed, mutates
// AgentState per the action's type and records it (spec.md §4.4).
func (e *Executor) Execute(a *decisionmaker.Action, summary observer.Summary, limits agentstate.Limits) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gate := e.preExecutionCheckLocked(a, limits)
	if !gate.Allowed {
		actionsBlockedTotal.WithLabelValues(string(a.Type)).Inc()
		return false, gate.Reason
	}

	if err := e.applyLocked(a); err != nil {
		return false, err.Error()
	}

	now := time.Now()
	a.ExecutedAt = &now
	a.Status = decisionmaker.StatusExecuted

	rec := &Record{Action: a, Baseline: snapshotFrom(summary)}
	e.executionLog = append(e.executionLog, rec)
	e.state.RecordActionExecuted()
	actionsExecutedTotal.WithLabelValues(string(a.Type)).Inc()

	if a.Type == payment.ActionNone || a.Type == payment.ActionAlertOps {
		completedAt := now
		a.CompletedAt = &completedAt
		a.Status = decisionmaker.StatusCompleted
		e.state.RecordActionSuccessful()
		return true, "executed"
	}

	e.activeInterventions[interventionKey{a.Type, a.Target}] = rec
	activeInterventionsGauge.Set(float64(len(e.activeInterventions)))
	return true, "executed"
}

// preExecutionCheckLocked runs spec.md §4.4's three pre-execution checks.
// Caller must hold e.mu.
func (e *Executor) preExecutionCheckLocked(a *decisionmaker.Action, limits agentstate.Limits) agentstate.GateResult {
	if a.AuthorizationLevel == payment.AuthManual && a.Approver == "" {
		return agentstate.GateResult{Reason: "Manual approval required but no approver set"}
	}
	if a.AuthorizationLevel == payment.AuthSemiAutomatic && a.RiskLevel != payment.RiskLow && a.Approver == "" {
		return agentstate.GateResult{Reason: "Semi-automatic approval required but no approver set for non-low risk"}
	}

	gate := e.state.CanTakeAction(a.RiskLevel, a.Confidence, a.Score, len(e.activeInterventions), limits)
	if !gate.Allowed {
		return gate
	}

	key := interventionKey{a.Type, a.Target}
	if _, exists := e.activeInterventions[key]; exists {
		return agentstate.GateResult{Reason: "An active intervention already targets this action type and target"}
	}
	return agentstate.GateResult{Allowed: true}
}

// applyLocked mutates AgentState per the action's type. Every branch is
// idempotent because the underlying AgentState setters are (spec.md §3).
// Caller must hold e.mu.
func (e *Executor) applyLocked(a *decisionmaker.Action) error {
	switch a.Type {
	case payment.ActionCircuitBreaker:
		p := a.Parameters.CircuitBreaker
		if p == nil {
			return fmt.Errorf("%w: circuit_breaker action missing parameters", ErrExecutionFailed)
		}
		e.state.AddCircuitBreaker(p.Issuer)
	case payment.ActionAdjustRetry:
		p := a.Parameters.AdjustRetry
		if p == nil {
			return fmt.Errorf("%w: adjust_retry action missing parameters", ErrExecutionFailed)
		}
		e.state.MergeRetryStrategy(a.Target, agentstate.RetryStrategy{
			MaxRetries:        p.MaxRetries,
			BackoffMultiplier: p.BackoffMultiplier,
			TimeoutMs:         p.TimeoutMs,
			AppliedAt:         time.Now(),
		})
	case payment.ActionRouteChange:
		p := a.Parameters.RouteChange
		if p == nil {
			return fmt.Errorf("%w: route_change action missing parameters", ErrExecutionFailed)
		}
		e.state.SetRoutingOverride(a.Target, agentstate.RoutingOverride{
			AlternativeRouting: p.AlternativeRouting,
			ReduceRoutingPct:   p.ReduceRoutingPct,
			AppliedAt:          time.Now(),
		})
	case payment.ActionMethodSuppress:
		p := a.Parameters.MethodSuppress
		if p == nil {
			return fmt.Errorf("%w: method_suppress action missing parameters", ErrExecutionFailed)
		}
		e.state.SuppressMethod(p.PaymentMethod)
	case payment.ActionAlertOps:
		e.sendAlert(a)
	case payment.ActionNone:
		// record only
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrExecutionFailed, a.Type)
	}
	return nil
}

func (e *Executor) sendAlert(a *decisionmaker.Action) {
	p := a.Parameters.AlertOps
	if p == nil {
		return
	}
	subject := fmt.Sprintf("[%s] %s severity %.2f", p.PatternType, a.Target, p.Severity)
	e.sink.Send(context.Background(), subject, p.Description)
}

// MonitorAndRollback checks every active intervention against the current
// summary and reverses any whose rollback triggers have fired (spec.md
// §4.4). Returns the rolled-back action IDs.
func (e *Executor) MonitorAndRollback(summary observer.Summary) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := snapshotFrom(summary)
	var rolledBack []string
	for key, rec := range e.activeInterventions {
		if !shouldRollback(rec, current) {
			continue
		}
		e.rollbackLocked(rec)
		rolledBack = append(rolledBack, rec.Action.ID)
		delete(e.activeInterventions, key)
	}
	activeInterventionsGauge.Set(float64(len(e.activeInterventions)))
	return rolledBack
}

func shouldRollback(rec *Record, current Snapshot) bool {
	b := rec.Baseline

	if b.SuccessRate-current.SuccessRate > successRateDropTrigger {
		return true
	}
	if b.AvgLatencyMs > 0 && (current.AvgLatencyMs-b.AvgLatencyMs)/b.AvgLatencyMs > latencyIncreaseTrigger {
		return true
	}
	if b.ErrorRate > 0 && (current.ErrorRate-b.ErrorRate)/b.ErrorRate > errorRateIncreaseTrigger {
		return true
	}
	if b.CostPerTxn > 0 && (current.CostPerTxn-b.CostPerTxn)/b.CostPerTxn > costIncreaseTrigger {
		return true
	}
	if time.Since(b.Timestamp) > time.Duration(interventionDurationMinutes(rec.Action))*time.Minute {
		return true
	}
	return false
}

func interventionDurationMinutes(a *decisionmaker.Action) int {
	switch a.Type {
	case payment.ActionCircuitBreaker:
		if p := a.Parameters.CircuitBreaker; p != nil && p.DurationMinutes > 0 {
			return p.DurationMinutes
		}
	case payment.ActionAdjustRetry:
		if p := a.Parameters.AdjustRetry; p != nil && p.DurationMinutes > 0 {
			return p.DurationMinutes
		}
	case payment.ActionRouteChange:
		if p := a.Parameters.RouteChange; p != nil && p.DurationMinutes > 0 {
			return p.DurationMinutes
		}
	case payment.ActionMethodSuppress:
		if p := a.Parameters.MethodSuppress; p != nil && p.DurationMinutes > 0 {
			return p.DurationMinutes
		}
	}
	return defaultMonitorDurationMinutes
}

// rollbackLocked reverses an intervention's state write. Caller must hold
// e.mu.
func (e *Executor) rollbackLocked(rec *Record) {
	a := rec.Action
	switch a.Type {
	case payment.ActionCircuitBreaker:
		if p := a.Parameters.CircuitBreaker; p != nil {
			e.state.RemoveCircuitBreaker(p.Issuer)
		}
	case payment.ActionAdjustRetry:
		e.state.RemoveRetryStrategy(a.Target)
	case payment.ActionRouteChange:
		e.state.RemoveRoutingOverride(a.Target)
	case payment.ActionMethodSuppress:
		if p := a.Parameters.MethodSuppress; p != nil {
			e.state.UnsuppressMethod(p.PaymentMethod)
		}
	}

	now := time.Now()
	a.Status = decisionmaker.StatusRolledBack
	a.CompletedAt = &now
	e.state.RecordRollback()
	rollbacksTotal.WithLabelValues(string(a.Type)).Inc()
}

// ActiveInterventions returns the actions currently under monitoring.
func (e *Executor) ActiveInterventions() []*decisionmaker.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*decisionmaker.Action, 0, len(e.activeInterventions))
	for _, rec := range e.activeInterventions {
		out = append(out, rec.Action)
	}
	return out
}

// RecordForAction returns the execution record for actionID, if one
// exists (present for any action that has ever been executed, active or
// rolled back).
func (e *Executor) RecordForAction(actionID string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.executionLog {
		if rec.Action.ID == actionID {
			return rec, true
		}
	}
	return nil, false
}

// ExecutionHistory returns the most recent limit execution records, most
// recent first. limit<=0 returns the full history.
func (e *Executor) ExecutionHistory(limit int) []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.executionLog)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = e.executionLog[n-1-i]
	}
	return out
}
