package controlloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/executor"
	"github.com/mbd888/remediation-agent/internal/learner"
	"github.com/mbd888/remediation-agent/internal/metrics"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
	"github.com/mbd888/remediation-agent/internal/traces"
)

// DefaultInterval is spec.md §2's default cycle cadence.
const DefaultInterval = 30 * time.Second

// minPatternSeverity is the floor below which a detected pattern is never
// brought to a decision at all — too faint to be worth a candidate action,
// let alone a denial record.
const minPatternSeverity = 0.3

// ReportSink receives each cycle's result as it completes, e.g. for
// WebSocket broadcast (internal/feed) or persistence (internal/audit).
type ReportSink interface {
	Publish(CycleResult)
}

// ControlLoop wires the five stages together and drives runCycle on a
// timer (spec.md §2, §5).
type ControlLoop struct {
	observer      *observer.Observer
	reasoner      *reasoner.Reasoner
	decisionMaker *decisionmaker.DecisionMaker
	state         *agentstate.AgentState
	executor      *executor.Executor
	learner       *learner.Learner

	limits               agentstate.Limits
	interval             time.Duration
	approvalModeOverride payment.AuthorizationLevel
	logger               *slog.Logger
	sink                 ReportSink

	// mu serialises cycle execution: spec.md §5 requires a single write
	// lock across state mutations for the duration of a cycle.
	mu    sync.Mutex
	cycle int

	// actionPatterns remembers which Pattern produced an in-flight
	// action, keyed by Action.ID, so a later-cycle rollback can still be
	// attributed to the pattern it was meant to fix (spec.md §4.5's
	// per-pattern-type TP/FP bookkeeping).
	actionPatterns map[string]payment.PatternType

	stop    chan struct{}
	running atomic.Bool

	// lastCycleAtNano is the UnixNano timestamp of the last completed
	// cycle (successful or not), read by a health checker without
	// contending on mu (spec.md §6: "healthy if within 2×CycleInterval").
	lastCycleAtNano atomic.Int64
}

// New builds a ControlLoop from its five component stages. sink may be
// nil if no external report consumer is wired.
func New(
	obs *observer.Observer,
	r *reasoner.Reasoner,
	dm *decisionmaker.DecisionMaker,
	state *agentstate.AgentState,
	exec *executor.Executor,
	l *learner.Learner,
	limits agentstate.Limits,
	interval time.Duration,
	logger *slog.Logger,
	sink ReportSink,
) *ControlLoop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlLoop{
		observer:       obs,
		reasoner:       r,
		decisionMaker:  dm,
		state:          state,
		executor:       exec,
		learner:        l,
		limits:         limits,
		interval:       interval,
		logger:         logger,
		sink:           sink,
		actionPatterns: make(map[string]payment.PatternType),
		stop:           make(chan struct{}),
	}
}

// SetApprovalModeOverride forces every candidate action's AuthorizationLevel
// to level instead of the risk/traffic-driven escalation (APPROVAL_MODE
// config override). Pass "" to restore the default escalation behavior.
func (c *ControlLoop) SetApprovalModeOverride(level payment.AuthorizationLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvalModeOverride = level
}

// Ingest feeds a transaction into the Observer. Non-blocking and O(1)
// amortised (spec.md §5); safe to call concurrently with a running cycle.
func (c *ControlLoop) Ingest(txn payment.Transaction) error {
	return c.observer.Ingest(txn)
}

// Running reports whether the timer loop is active.
func (c *ControlLoop) Running() bool { return c.running.Load() }

// LastCycleAt returns the completion timestamp of the most recently
// finished cycle, or the zero time if no cycle has run yet.
func (c *ControlLoop) LastCycleAt() time.Time {
	nanos := c.lastCycleAtNano.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Interval returns the control loop's configured cycle cadence.
func (c *ControlLoop) Interval() time.Duration { return c.interval }

// Cycle returns the number of cycles run so far.
func (c *ControlLoop) Cycle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle
}

// Start begins the cycle loop; call in a goroutine. It returns when ctx
// is cancelled or Stop is called (spec.md §5: "honours a cancel signal
// between cycles").
func (c *ControlLoop) Start(ctx context.Context) {
	c.running.Store(true)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.safeRunCycle(ctx)
		}
	}
}

// Stop signals the cycle loop to stop before its next tick.
func (c *ControlLoop) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

func (c *ControlLoop) safeRunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic running control loop cycle", "panic", fmt.Sprint(r))
		}
	}()

	result := c.RunCycle(ctx)
	if result.Error != "" {
		c.logger.Warn("cycle completed with error", "cycle", result.Cycle, "error", result.Error)
	}
	if c.sink != nil {
		c.sink.Publish(result)
	}
}

// RunCycle executes one Observe -> Reason -> Decide -> Act -> Monitor ->
// Learn pass and returns its structured report (spec.md §2, §6). A
// CycleInternal condition is captured on the report rather than
// propagated (spec.md §7): the cycle counter still advances and the next
// cycle runs normally.
func (c *ControlLoop) RunCycle(ctx context.Context) (result CycleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	c.cycle++
	result = CycleResult{Cycle: c.cycle, Timestamp: start}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("cycle panic: %v", r)
		}
		result.CycleDurationSeconds = time.Since(start).Seconds()
		c.lastCycleAtNano.Store(time.Now().UnixNano())

		outcome := "ok"
		if result.Error != "" {
			outcome = "error"
		}
		metrics.CyclesTotal.WithLabelValues(outcome).Inc()
		metrics.CycleDurationSeconds.Observe(result.CycleDurationSeconds)
		for _, p := range result.PatternsDetected {
			metrics.PatternsDetectedTotal.WithLabelValues(string(p.Type)).Inc()
		}
	}()

	ctx, span := traces.StartSpan(ctx, "controlloop.run_cycle")
	defer span.End()

	summary := c.observeStage(ctx)
	result.ObservationSummary = summary

	patterns := c.reasonStage(ctx, summary)
	result.PatternsDetected = patterns

	actions, rollbacks, denials := c.decideAndActStage(ctx, summary, patterns)
	result.ActionsTaken = actions
	result.RollbacksExecuted = rollbacks
	result.Denials = denials

	result.LearningUpdates = c.learnStage(ctx, summary, rollbacks)

	if learner.ShouldUpdateWeights(c.cycle) {
		c.learner.UpdateDecisionWeights(c.decisionMaker)
		c.learner.RecommendThresholdAdjustments(c.reasoner)
	}

	return result
}

func (c *ControlLoop) observeStage(ctx context.Context) observer.Summary {
	_, span := traces.StartSpan(ctx, "controlloop.observe")
	defer span.End()

	summary := c.observer.Summarize()
	c.state.UpdateAggregateMetrics(summary.Overall.SuccessRate, summary.Overall.Latency.Mean)
	return summary
}

func (c *ControlLoop) reasonStage(ctx context.Context, summary observer.Summary) []reasoner.Pattern {
	_, span := traces.StartSpan(ctx, "controlloop.reason")
	defer span.End()

	patterns := c.reasoner.Analyze(summary)
	c.reasoner.UpdateBaselines(summary)
	for range patterns {
		c.state.RecordPatternDetected()
	}
	return patterns
}

// decideAndActStage runs decide then execute for every pattern detected
// this cycle, and monitors previously active interventions for rollback.
// A Pattern cannot be acted upon before reasoning produces it, and
// monitoring only ever inspects interventions already executed in a prior
// cycle (spec.md §5's ordering guarantee). Patterns below
// minPatternSeverity are skipped before a decision is even attempted, so
// they never appear as an action or a denial.
func (c *ControlLoop) decideAndActStage(ctx context.Context, summary observer.Summary, patterns []reasoner.Pattern) ([]*decisionmaker.Action, []RollbackReport, []DenialReport) {
	_, span := traces.StartSpan(ctx, "controlloop.decide_and_act")
	defer span.End()

	snapshot := c.state.Snapshot()
	var taken []*decisionmaker.Action
	var denials []DenialReport

	for _, p := range patterns {
		if p.Severity < minPatternSeverity {
			continue
		}

		dctx := decisionmaker.Context{
			Pattern:              p,
			Hypotheses:           c.reasoner.GenerateHypotheses(p),
			State:                snapshot,
			TotalVolume:          summary.Overall.Total,
			OverallLatencyMs:     summary.Overall.Latency.Mean,
			ActiveCount:          len(c.executor.ActiveInterventions()),
			Limits:               c.limits,
			ApprovalModeOverride: c.approvalModeOverride,
		}

		outcome := c.decisionMaker.Decide(dctx)
		if outcome.Action == nil {
			c.logger.Debug("no action taken", "pattern", p.Type, "reason", outcome.Reason)
			if outcome.Reason != "" {
				denials = append(denials, DenialReport{PatternType: p.Type, Reason: outcome.Reason})
			}
			continue
		}

		ok, msg := c.executor.Execute(outcome.Action, summary, c.limits)
		if !ok {
			c.logger.Warn("action blocked", "pattern", p.Type, "action", outcome.Action.Type, "reason", msg)
			denials = append(denials, DenialReport{PatternType: p.Type, ActionType: outcome.Action.Type, Reason: msg})
			continue
		}

		c.actionPatterns[outcome.Action.ID] = p.Type
		taken = append(taken, outcome.Action)
	}

	rolledBackIDs := c.executor.MonitorAndRollback(summary)
	rollbacks := make([]RollbackReport, 0, len(rolledBackIDs))
	for _, id := range rolledBackIDs {
		rollbacks = append(rollbacks, RollbackReport{ActionID: id, Reason: "rollback trigger fired"})
	}
	return taken, rollbacks, denials
}

// learnStage records an outcome for every action rolled back this cycle,
// against this cycle's observation snapshot (the same figures
// MonitorAndRollback compared the rollback triggers against), and reports
// the Learner's running totals (spec.md §4.5, §6).
func (c *ControlLoop) learnStage(ctx context.Context, summary observer.Summary, rollbacks []RollbackReport) LearningUpdate {
	_, span := traces.StartSpan(ctx, "controlloop.learn")
	defer span.End()

	actual := executor.SnapshotFrom(summary)
	for _, rb := range rollbacks {
		rec, ok := c.executor.RecordForAction(rb.ActionID)
		if !ok {
			continue
		}
		patternType := c.actionPatterns[rb.ActionID]
		c.learner.RecordOutcome(patternType, rec.Action, rec.Baseline, actual)
		delete(c.actionPatterns, rb.ActionID)
	}

	learnerSummary := c.learner.Summary()
	total := 0
	for _, acc := range learnerSummary.PatternAccuracy {
		total += acc.TruePositives + acc.FalsePositives
	}
	return LearningUpdate{TotalOutcomes: total, TopActionsCount: len(learnerSummary.ActionEffectiveness)}
}
