package audit

import (
	"github.com/mbd888/remediation-agent/internal/controlloop"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
)

// Sink adapts a Writer to controlloop.ReportSink, translating each
// CycleResult into the OutcomeRecords/DenialRecords its stores expect.
type Sink struct {
	writer *Writer
}

// NewSink wraps a Writer as a controlloop.ReportSink.
func NewSink(w *Writer) *Sink {
	return &Sink{writer: w}
}

// Compile-time assertion.
var _ controlloop.ReportSink = (*Sink)(nil)

// Publish implements controlloop.ReportSink.
func (s *Sink) Publish(result controlloop.CycleResult) {
	for _, a := range result.ActionsTaken {
		s.writer.EnqueueOutcome(outcomeFromAction(a))
	}
	for _, d := range result.Denials {
		s.writer.EnqueueDenial(DenialRecord{
			PatternType: d.PatternType,
			ActionType:  d.ActionType,
			Reason:      d.Reason,
			CreatedAt:   result.Timestamp,
		})
	}
}

func outcomeFromAction(a *decisionmaker.Action) OutcomeRecord {
	rec := OutcomeRecord{
		ActionID:           a.ID,
		ActionType:         a.Type,
		Target:             a.Target,
		RiskLevel:          a.RiskLevel,
		AuthorizationLevel: a.AuthorizationLevel,
		Confidence:         a.Confidence,
		Reasoning:          a.Reasoning,
		EstimatedDelta:     a.EstimatedImpact.SuccessRateDelta,
		Status:             a.Status,
		Approver:           a.Approver,
		CreatedAt:          a.CreatedAt,
		ExecutedAt:         a.ExecutedAt,
	}
	if a.ActualImpact != nil {
		rec.ActualDelta = a.ActualImpact.SuccessRateDelta
		rec.RolledBackAt = a.CompletedAt
	}
	return rec
}
