// Package audit provides optional persistence for what the control loop
// decided and why: every executed/rolled-back Action and every Decide call
// a safety gate blocked (spec.md §7's error taxonomy, SPEC_FULL.md's
// decision/denial audit trail). The core never depends on a concrete
// store, only the OutcomeStore/DenialStore interfaces (spec.md lists audit
// persistence as an out-of-scope external collaborator, "specified only by
// the interface the core consumes").
package audit

import (
	"context"
	"time"

	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// OutcomeRecord is one executed action's lifecycle, from decision through
// rollback (if any).
type OutcomeRecord struct {
	ActionID           string
	ActionType         payment.ActionType
	Target             string
	RiskLevel          payment.RiskLevel
	AuthorizationLevel payment.AuthorizationLevel
	Confidence         float64
	Reasoning          string
	EstimatedDelta     float64 // EstimatedImpact.SuccessRateDelta
	ActualDelta        float64 // ActualImpact.SuccessRateDelta, zero until rolled back
	Status             decisionmaker.ActionStatus
	Approver           string
	CreatedAt          time.Time
	ExecutedAt         *time.Time
	RolledBackAt       *time.Time
}

// DenialRecord is one Decide call a safety gate blocked, or an action an
// Executor pre-execution check rejected (spec.md §4.6's approval gate,
// §7's error taxonomy).
type DenialRecord struct {
	PatternType payment.PatternType
	ActionType  payment.ActionType
	Reason      string
	CreatedAt   time.Time
}

// OutcomeStore persists OutcomeRecords. Implementations must tolerate
// being called more than once for the same ActionID (an execution record
// followed later by a rollback update).
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
	RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error)
}

// DenialStore persists DenialRecords.
type DenialStore interface {
	RecordDenial(ctx context.Context, rec DenialRecord) error
	RecentDenials(ctx context.Context, limit int) ([]DenialRecord, error)
}
