package feed

import (
	"github.com/mbd888/remediation-agent/internal/controlloop"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// CycleResultPayload is the EventCycleResult data shape: a trimmed view
// of controlloop.CycleResult (the observation summary's full per-dimension
// breakdown is large and not useful to a live dashboard feed).
type CycleResultPayload struct {
	Cycle                int     `json:"cycle"`
	PatternsDetected     int     `json:"patternsDetected"`
	ActionsTaken         int     `json:"actionsTaken"`
	RollbacksExecuted    int     `json:"rollbacksExecuted"`
	Denials              int     `json:"denials"`
	CycleDurationSeconds float64 `json:"cycleDurationSeconds"`
	Error                string  `json:"error,omitempty"`
}

// ActionPayload is the EventAction data shape.
type ActionPayload struct {
	ActionID   string                     `json:"actionId"`
	ActionType payment.ActionType         `json:"actionType"`
	Target     string                     `json:"target"`
	RiskLevel  payment.RiskLevel          `json:"riskLevel"`
	Status     decisionmaker.ActionStatus `json:"status"`
	Confidence float64                    `json:"confidence"`
}

// RollbackPayload is the EventRollback data shape.
type RollbackPayload struct {
	ActionID string `json:"actionId"`
	Reason   string `json:"reason"`
}

// DenialPayload is the EventDenial data shape.
type DenialPayload struct {
	PatternType payment.PatternType `json:"patternType"`
	ActionType  payment.ActionType  `json:"actionType,omitempty"`
	Reason      string              `json:"reason"`
}

// Sink adapts a Hub to controlloop.ReportSink.
type Sink struct {
	hub *Hub
}

// NewSink wraps a Hub as a controlloop.ReportSink.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

// Compile-time assertion.
var _ controlloop.ReportSink = (*Sink)(nil)

// Publish implements controlloop.ReportSink: it broadcasts one summary
// event per cycle plus one fine-grained event per action/rollback/denial,
// so a client can subscribe to the level of detail it needs.
func (s *Sink) Publish(result controlloop.CycleResult) {
	s.hub.Broadcast(&Event{
		Type:      EventCycleResult,
		Timestamp: result.Timestamp,
		Data: CycleResultPayload{
			Cycle:                result.Cycle,
			PatternsDetected:     len(result.PatternsDetected),
			ActionsTaken:         len(result.ActionsTaken),
			RollbacksExecuted:    len(result.RollbacksExecuted),
			Denials:              len(result.Denials),
			CycleDurationSeconds: result.CycleDurationSeconds,
			Error:                result.Error,
		},
	})

	for _, a := range result.ActionsTaken {
		s.hub.Broadcast(&Event{
			Type:      EventAction,
			Timestamp: result.Timestamp,
			Data: ActionPayload{
				ActionID:   a.ID,
				ActionType: a.Type,
				Target:     a.Target,
				RiskLevel:  a.RiskLevel,
				Status:     a.Status,
				Confidence: a.Confidence,
			},
		})
	}

	for _, rb := range result.RollbacksExecuted {
		s.hub.Broadcast(&Event{
			Type:      EventRollback,
			Timestamp: result.Timestamp,
			Data:      RollbackPayload{ActionID: rb.ActionID, Reason: rb.Reason},
		})
	}

	for _, d := range result.Denials {
		s.hub.Broadcast(&Event{
			Type:      EventDenial,
			Timestamp: result.Timestamp,
			Data: DenialPayload{
				PatternType: d.PatternType,
				ActionType:  d.ActionType,
				Reason:      d.Reason,
			},
		})
	}
}
