package learner

import (
	"math"
	"sync"
	"time"

	"github.com/mbd888/remediation-agent/internal/agentstate"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/executor"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

const (
	minEffectivenessSamples = 3

	lowPrecisionThreshold  = 0.70
	highPrecisionThreshold = 0.95
	highPrecisionMinTP     = 10
	thresholdLoosenFactor  = 1.2
	thresholdTightenFactor = 0.9

	weightLearningRate  = 0.1
	weightMin           = 0.05
	weightMax           = 0.60
	weightTuningCadence = 10
)

// Learner tracks the gap between what the Decision Maker estimated and
// what actually happened, and turns that gap into threshold and weight
// adjustments (spec.md §4.5). It never mutates AgentState's control
// surface directly; it only reports true/false-positive signals through
// RecordEvaluation, same as the Executor reports rollbacks.
type Learner struct {
	mu           sync.Mutex
	state        *agentstate.AgentState
	history      map[outcomeKey][]OutcomeRecord
	patternStats map[payment.PatternType]*patternCounts
}

// New builds a Learner. state may be nil in tests that don't care about
// the evaluation feedback loop.
func New(state *agentstate.AgentState) *Learner {
	return &Learner{
		state:        state,
		history:      make(map[outcomeKey][]OutcomeRecord),
		patternStats: make(map[payment.PatternType]*patternCounts),
	}
}

// ShouldUpdateWeights is true on the weight-tuning cadence (spec.md §4.5:
// "invoked every 10 cycles").
func ShouldUpdateWeights(cycle int) bool {
	return cycle > 0 && cycle%weightTuningCadence == 0
}

// RecordOutcome computes actualImpact from the execution baseline and the
// current snapshot, records the prediction error, and derives a
// true/false-positive signal for patternType: a rolled-back action is a
// false positive on the pattern that triggered it, a completed action
// whose success rate actually improved is a true positive (resolves
// spec.md's Open Question on TP/FP sourcing).
func (l *Learner) RecordOutcome(patternType payment.PatternType, a *decisionmaker.Action, baseline, actual executor.Snapshot) OutcomeRecord {
	actualImpact := decisionmaker.EstimatedImpact{
		SuccessRateDelta:   actual.SuccessRate - baseline.SuccessRate,
		LatencyDeltaMs:     actual.AvgLatencyMs - baseline.AvgLatencyMs,
		CostDeltaPerTxn:    actual.CostPerTxn - baseline.CostPerTxn,
		AffectedTrafficPct: a.EstimatedImpact.AffectedTrafficPct,
	}
	a.ActualImpact = &actualImpact

	rec := OutcomeRecord{
		Action:          a,
		Estimated:       a.EstimatedImpact,
		Actual:          actualImpact,
		PredictionError: predictionError(a.EstimatedImpact, actualImpact),
		RecordedAt:      time.Now(),
	}

	l.mu.Lock()
	key := outcomeKey{actionType: a.Type, target: a.Target}
	l.history[key] = append(l.history[key], rec)

	truePositive := a.Status == decisionmaker.StatusCompleted && actualImpact.SuccessRateDelta > 0
	falsePositive := a.Status == decisionmaker.StatusRolledBack
	if truePositive || falsePositive {
		counts := l.patternStats[patternType]
		if counts == nil {
			counts = &patternCounts{}
			l.patternStats[patternType] = counts
		}
		if truePositive {
			counts.tp++
		} else {
			counts.fp++
		}
	}
	l.mu.Unlock()

	if (truePositive || falsePositive) && l.state != nil {
		l.state.RecordEvaluation(truePositive)
	}
	return rec
}

// predictionError is the mean absolute percentage error across the
// estimated/actual success-rate and latency deltas, skipping any
// objective whose estimate is too close to zero to divide by (spec.md
// §4.5).
func predictionError(estimated, actual decisionmaker.EstimatedImpact) float64 {
	var terms []float64
	if math.Abs(estimated.SuccessRateDelta) > 1e-3 {
		terms = append(terms, math.Abs((actual.SuccessRateDelta-estimated.SuccessRateDelta)/estimated.SuccessRateDelta))
	}
	if math.Abs(estimated.LatencyDeltaMs) > 1e-3 {
		terms = append(terms, math.Abs((actual.LatencyDeltaMs-estimated.LatencyDeltaMs)/estimated.LatencyDeltaMs))
	}
	if len(terms) == 0 {
		return 0
	}
	var sum float64
	for _, t := range terms {
		sum += t
	}
	return sum / float64(len(terms))
}

// ActionEffectiveness aggregates the outcome history for actionType,
// scoped to target when target is non-empty and across every target
// otherwise. The second return is false until at least
// minEffectivenessSamples outcomes have been recorded (spec.md §4.5).
func (l *Learner) ActionEffectiveness(actionType payment.ActionType, target string) (EffectivenessStats, bool) {
	l.mu.Lock()
	var recs []OutcomeRecord
	if target != "" {
		recs = append(recs, l.history[outcomeKey{actionType: actionType, target: target}]...)
	} else {
		for k, v := range l.history {
			if k.actionType == actionType {
				recs = append(recs, v...)
			}
		}
	}
	l.mu.Unlock()

	return computeEffectiveness(recs)
}

func computeEffectiveness(recs []OutcomeRecord) (EffectivenessStats, bool) {
	if len(recs) < minEffectivenessSamples {
		return EffectivenessStats{}, false
	}
	stats := EffectivenessStats{Samples: len(recs)}
	for _, r := range recs {
		stats.MeanSuccessRateDelta += r.Actual.SuccessRateDelta
		stats.MeanLatencyDeltaMs += r.Actual.LatencyDeltaMs
		stats.MeanPredictionError += r.PredictionError
	}
	n := float64(len(recs))
	stats.MeanSuccessRateDelta /= n
	stats.MeanLatencyDeltaMs /= n
	stats.MeanPredictionError /= n
	return stats, true
}

// PatternAccuracy returns patternType's true/false-positive tally and
// precision (spec.md §4.5).
func (l *Learner) PatternAccuracy(patternType payment.PatternType) PatternAccuracy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return accuracyFor(l.patternStats[patternType])
}

func accuracyFor(c *patternCounts) PatternAccuracy {
	if c == nil {
		return PatternAccuracy{}
	}
	total := c.tp + c.fp
	var precision float64
	if total > 0 {
		precision = float64(c.tp) / float64(total)
	}
	return PatternAccuracy{TruePositives: c.tp, FalsePositives: c.fp, Precision: precision}
}

// RecommendThresholdAdjustments walks every pattern type with evaluation
// history and nudges its detector threshold via r.AdjustThreshold
// (spec.md §4.5): precision below lowPrecisionThreshold loosens the
// detector (threshold * 1.2, fewer false positives going forward);
// precision above highPrecisionThreshold with enough true positives
// tightens it (threshold * 0.9, catch more of a pattern we rarely get
// wrong about).
func (l *Learner) RecommendThresholdAdjustments(r *reasoner.Reasoner) {
	l.mu.Lock()
	snapshot := make(map[payment.PatternType]patternCounts, len(l.patternStats))
	for pt, c := range l.patternStats {
		snapshot[pt] = *c
	}
	l.mu.Unlock()

	for pt, c := range snapshot {
		total := c.tp + c.fp
		if total == 0 {
			continue
		}
		precision := float64(c.tp) / float64(total)
		switch {
		case precision < lowPrecisionThreshold:
			r.AdjustThreshold(pt, thresholdLoosenFactor)
		case precision > highPrecisionThreshold && c.tp > highPrecisionMinTP:
			r.AdjustThreshold(pt, thresholdTightenFactor)
		}
	}
}

// UpdateDecisionWeights retunes dm's objective weights from accumulated
// outcome history (spec.md §4.5). For each objective, it looks at the
// outcomes where the action was an overall success (actual success-rate
// delta > 0) and the Decision Maker's own estimate for that objective was
// favorable, then measures how often the objective's actual outcome also
// turned out favorable. A high hit rate nudges the weight up; a low hit
// rate nudges it down; lr scales the step and the result is clamped to
// [weightMin, weightMax] then renormalized to sum to 1.
func (l *Learner) UpdateDecisionWeights(dm *decisionmaker.DecisionMaker) {
	l.mu.Lock()
	var all []OutcomeRecord
	for _, recs := range l.history {
		all = append(all, recs...)
	}
	l.mu.Unlock()

	current := dm.Weights()
	updated := decisionmaker.Weights{
		SuccessRate: adjustWeight(current.SuccessRate, objectiveHitRate(all, successObjective)),
		Latency:     adjustWeight(current.Latency, objectiveHitRate(all, latencyObjective)),
		Cost:        adjustWeight(current.Cost, objectiveHitRate(all, costObjective)),
		Risk:        adjustWeight(current.Risk, objectiveHitRate(all, riskObjective)),
	}
	dm.SetWeights(updated.Normalize())
}

func adjustWeight(current, hitRate float64) float64 {
	w := current + weightLearningRate*(hitRate-0.5)
	if w < weightMin {
		return weightMin
	}
	if w > weightMax {
		return weightMax
	}
	return w
}

// objectiveCheck reports whether an outcome's estimate was favorable for
// one scoring objective, and whether the actual result was too.
type objectiveCheck func(r OutcomeRecord) (estimateFavorable, actualFavorable bool)

func successObjective(r OutcomeRecord) (bool, bool) {
	return r.Estimated.SuccessRateDelta > 0, r.Actual.SuccessRateDelta > 0
}

func latencyObjective(r OutcomeRecord) (bool, bool) {
	return r.Estimated.LatencyDeltaMs < 0, r.Actual.LatencyDeltaMs < 0
}

func costObjective(r OutcomeRecord) (bool, bool) {
	return r.Estimated.CostDeltaPerTxn <= 0, r.Actual.CostDeltaPerTxn <= 0
}

func riskObjective(r OutcomeRecord) (bool, bool) {
	estimatedLowRisk := r.Action.RiskLevel == payment.RiskLow || r.Action.RiskLevel == payment.RiskMedium
	return estimatedLowRisk, r.Action.Status != decisionmaker.StatusRolledBack
}

// objectiveHitRate is the fraction of overall-successful outcomes, among
// those where the objective's own estimate was favorable, where the
// objective's actual result was also favorable. With no such outcomes it
// returns 0.5 so adjustWeight leaves the weight unchanged.
func objectiveHitRate(recs []OutcomeRecord, check objectiveCheck) float64 {
	var matched, hits int
	for _, r := range recs {
		if r.Actual.SuccessRateDelta <= 0 {
			continue
		}
		estFavorable, actFavorable := check(r)
		if !estFavorable {
			continue
		}
		matched++
		if actFavorable {
			hits++
		}
	}
	if matched == 0 {
		return 0.5
	}
	return float64(hits) / float64(matched)
}

// Summary reports every pattern's accuracy and every action type's
// aggregated effectiveness (spec.md §4.5 `summary()`).
func (l *Learner) Summary() Summary {
	l.mu.Lock()
	patternStats := make(map[payment.PatternType]*patternCounts, len(l.patternStats))
	for pt, c := range l.patternStats {
		cc := *c
		patternStats[pt] = &cc
	}
	byType := make(map[payment.ActionType][]OutcomeRecord)
	for k, recs := range l.history {
		byType[k.actionType] = append(byType[k.actionType], recs...)
	}
	l.mu.Unlock()

	s := Summary{
		PatternAccuracy:     make(map[payment.PatternType]PatternAccuracy, len(patternStats)),
		ActionEffectiveness: make(map[payment.ActionType]EffectivenessStats),
	}
	for pt, c := range patternStats {
		s.PatternAccuracy[pt] = accuracyFor(c)
	}
	for at, recs := range byType {
		if stats, ok := computeEffectiveness(recs); ok {
			s.ActionEffectiveness[at] = stats
		}
	}
	return s
}
