package decisionmaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

// Context carries everything decide needs: the detected Pattern, its
// Hypotheses, the current AgentState snapshot, and the cycle-level figures
// the objective functions are scored against (spec.md §4.3).
type Context struct {
	Pattern          reasoner.Pattern
	Hypotheses       []reasoner.Hypothesis
	State            agentstate.Snapshot
	TotalVolume      int64
	OverallLatencyMs float64
	ActiveCount      int
	Limits           agentstate.Limits

	// ApprovalModeOverride, when non-empty, forces every candidate's
	// AuthorizationLevel to this value instead of the risk/traffic-driven
	// escalation in agentstate.EscalateAuthorization (APPROVAL_MODE
	// operator override).
	ApprovalModeOverride payment.AuthorizationLevel
}

// Outcome is the result of decide: either a chosen Action, or none with a
// single-sentence reason (spec.md §4.3, §7).
type Outcome struct {
	Action *Action
	Reason string
}

// DecisionMaker scores candidate actions and enforces safety gating before
// returning the top feasible one.
type DecisionMaker struct {
	mu      sync.RWMutex
	weights Weights
}

// New creates a DecisionMaker with spec.md §4.3's default weights.
func New() *DecisionMaker {
	return &DecisionMaker{weights: DefaultWeights()}
}

// Weights returns a copy of the current objective weights.
func (d *DecisionMaker) Weights() Weights {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.weights
}

// SetWeights installs new objective weights, used by internal/learner's
// updateDecisionWeights (spec.md §4.5).
func (d *DecisionMaker) SetWeights(w Weights) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.weights = w
}

// Decide generates candidates for ctx.Pattern, scores them, and returns
// the top candidate that clears the safety gates. If the top-scoring
// candidate is blocked, decide returns none rather than falling back to a
// worse candidate (spec.md §4.3).
func (d *DecisionMaker) Decide(ctx Context) Outcome {
	candidates := generateCandidates(ctx.Pattern, ctx.TotalVolume)
	weights := d.Weights()

	for _, c := range candidates {
		c.Score = Score(c, weights, ctx.Pattern.Severity, ctx.OverallLatencyMs, ctx.State.RollbacksLastHour)
		if ctx.ApprovalModeOverride != "" {
			c.AuthorizationLevel = ctx.ApprovalModeOverride
		} else {
			c.AuthorizationLevel = agentstate.EscalateAuthorization(c.Type, c.EstimatedImpact.AffectedTrafficPct)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	top := candidates[0]
	gate := gateCheck(top, ctx)
	if !gate.Allowed {
		return Outcome{Reason: gate.Reason}
	}

	top.CreatedAt = time.Now()
	top.Reasoning = buildReasoning(ctx.Pattern, ctx.Hypotheses, top, candidates)
	return Outcome{Action: top}
}

// gateCheck applies agentstate's safety gates to the chosen candidate; a
// no_action candidate is always allowed since it mutates nothing. decide
// only ever sees a read-only Snapshot (mutation stays the Executor's
// exclusive privilege, per spec.md §5).
func gateCheck(top *Action, ctx Context) agentstate.GateResult {
	if top.Type == payment.ActionNone {
		return agentstate.GateResult{Allowed: true}
	}
	return agentstate.EvaluateSnapshot(ctx.State, top.RiskLevel, top.Confidence, top.Score, ctx.ActiveCount, ctx.Limits)
}

func buildReasoning(p reasoner.Pattern, hyps []reasoner.Hypothesis, chosen *Action, all []*Action) string {
	reasoning := fmt.Sprintf("Pattern %s (severity %.2f, confidence %.2f): %s.\n", p.Type, p.Severity, p.Confidence, p.Description)

	if len(hyps) > 0 {
		reasoning += "Ranked root causes: "
		for i, h := range hyps {
			if i > 0 {
				reasoning += ", "
			}
			reasoning += fmt.Sprintf("%s (%.0f%%)", h.RootCause, h.Probability*100)
		}
		reasoning += ".\n"
	}

	reasoning += fmt.Sprintf("Chosen action: %s on %s (score %.3f), expected successRateDelta %.3f, affecting %.1f%% of traffic.\n",
		chosen.Type, chosen.Target, chosen.Score, chosen.EstimatedImpact.SuccessRateDelta, chosen.EstimatedImpact.AffectedTrafficPct*100)

	alts := topAlternatives(chosen, all, 3)
	if len(alts) > 0 {
		reasoning += "Alternatives considered: "
		for i, a := range alts {
			if i > 0 {
				reasoning += ", "
			}
			reasoning += fmt.Sprintf("%s (score %.3f)", a.Type, a.Score)
		}
		reasoning += "."
	}
	return reasoning
}

func topAlternatives(chosen *Action, all []*Action, n int) []*Action {
	var out []*Action
	for _, a := range all {
		if a == chosen {
			continue
		}
		out = append(out, a)
		if len(out) == n {
			break
		}
	}
	return out
}
