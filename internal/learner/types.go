// Package learner measures how well executed actions and detected
// patterns actually performed, and feeds that signal back into the
// Reasoner's detector thresholds and the Decision Maker's objective
// weights (spec.md §4.5).
package learner

import (
	"time"

	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// OutcomeRecord is one recordOutcome call's result: the action, what it
// was estimated to do, what it actually did, and the resulting prediction
// error (spec.md §4.5).
type OutcomeRecord struct {
	Action          *decisionmaker.Action
	Estimated       decisionmaker.EstimatedImpact
	Actual          decisionmaker.EstimatedImpact
	PredictionError float64
	RecordedAt      time.Time
}

// EffectivenessStats summarizes an action type/target's outcome history.
// Only meaningful once Samples >= 3 (spec.md §4.5).
type EffectivenessStats struct {
	Samples               int
	MeanSuccessRateDelta  float64
	MeanLatencyDeltaMs    float64
	MeanPredictionError   float64
}

// PatternAccuracy is a pattern type's true/false-positive tally and the
// precision derived from it.
type PatternAccuracy struct {
	TruePositives  int
	FalsePositives int
	Precision      float64
}

// Summary is the Learner's reportable state (spec.md §4.5 `summary()`).
type Summary struct {
	PatternAccuracy     map[payment.PatternType]PatternAccuracy
	ActionEffectiveness map[payment.ActionType]EffectivenessStats
}

type outcomeKey struct {
	actionType payment.ActionType
	target     string
}

type patternCounts struct {
	tp, fp int
}
