// Package controlloop drives the Observe -> Reason -> Decide -> Act ->
// Learn cycle (spec.md §2) on a timer, and reports each cycle's work as a
// structured CycleResult (spec.md §6).
package controlloop

import (
	"time"

	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
	"github.com/mbd888/remediation-agent/internal/reasoner"
)

// RollbackReport is one entry of a CycleResult's rollbacksExecuted list
// (spec.md §6).
type RollbackReport struct {
	ActionID string
	Reason   string
}

// LearningUpdate summarizes what the Learner did this cycle (spec.md §6).
type LearningUpdate struct {
	TotalOutcomes   int
	TopActionsCount int
}

// DenialReport is one Decide call a safety gate blocked, or an action an
// Executor pre-execution check rejected this cycle (spec.md §4.6, §7).
type DenialReport struct {
	PatternType payment.PatternType
	ActionType  payment.ActionType
	Reason      string
}

// CycleResult is the structured report returned by every runCycle
// invocation, success or failure (spec.md §6).
type CycleResult struct {
	Cycle                int
	Timestamp            time.Time
	ObservationSummary   observer.Summary
	PatternsDetected     []reasoner.Pattern
	ActionsTaken         []*decisionmaker.Action
	RollbacksExecuted    []RollbackReport
	Denials              []DenialReport
	LearningUpdates      LearningUpdate
	Error                string
	CycleDurationSeconds float64
}
