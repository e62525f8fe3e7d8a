// Package reasoner detects degradation patterns against rolling baselines,
// generates ranked root-cause hypotheses, and keeps the baselines
// themselves up to date via an exponential moving average.
package reasoner

import (
	"time"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// Trend tags whether a Pattern's effect size is growing or shrinking
// relative to its own previous cycle (supplemental to spec.md §3's Pattern
// shape, additive — see analytics_engine.go's TrendDirection).
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = ""
)

// Pattern is a scored observation that the stream departs from baseline
// (spec.md §3).
type Pattern struct {
	ID                string
	Type              payment.PatternType
	Description       string
	Severity          float64
	Confidence        float64
	AffectedDimension payment.Dimension
	AffectedValue     string
	Metrics           map[string]float64
	DetectedAt        time.Time
	Evidence          []string
	Trend             Trend
}

// Hypothesis is a candidate root cause attached to a Pattern (spec.md §3).
type Hypothesis struct {
	ID                    string
	PatternID             string
	RootCause             string
	Probability           float64
	SupportingEvidence    []string
	ContradictingEvidence []string
	CreatedAt             time.Time
}
