package reasoner

import (
	"sync"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// Default detector effect-size thresholds (spec.md §4.2's trigger column).
// These are the only thresholds the Learner's recommendThresholdAdjustments
// is allowed to move (spec.md §4.5); volume floors stay fixed.
const (
	defaultIssuerDegradationGap = 0.15
	defaultRetryStormRatio      = 0.40
	defaultMethodFatigueGap     = 0.20
	defaultLatencySpikeFactor   = 1.5
	defaultErrorClusterCount    = 10
	defaultGeographicGap        = 0.20
)

// thresholdStore holds the current, possibly learner-adjusted, trigger
// threshold per pattern type.
type thresholdStore struct {
	mu   sync.RWMutex
	vals map[payment.PatternType]float64
}

func newThresholdStore() *thresholdStore {
	return &thresholdStore{
		vals: map[payment.PatternType]float64{
			payment.PatternIssuerDegradation: defaultIssuerDegradationGap,
			payment.PatternRetryStorm:        defaultRetryStormRatio,
			payment.PatternMethodFatigue:     defaultMethodFatigueGap,
			payment.PatternLatencySpike:      defaultLatencySpikeFactor,
			payment.PatternErrorCluster:      defaultErrorClusterCount,
			payment.PatternGeographicIssue:   defaultGeographicGap,
		},
	}
}

func (t *thresholdStore) get(pt payment.PatternType) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vals[pt]
}

// Adjust multiplies the current threshold for pt by factor. Used by
// internal/learner's recommendThresholdAdjustments (spec.md §4.5).
func (t *thresholdStore) Adjust(pt payment.PatternType, factor float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vals[pt] *= factor
}

// Threshold exposes the current trigger threshold for a pattern type.
func (r *Reasoner) Threshold(pt payment.PatternType) float64 {
	return r.thresholds.get(pt)
}

// AdjustThreshold multiplies the current threshold for pt by factor.
func (r *Reasoner) AdjustThreshold(pt payment.PatternType, factor float64) {
	r.thresholds.Adjust(pt, factor)
}
