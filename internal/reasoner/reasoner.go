package reasoner

import (
	"sort"
	"sync"
	"time"

	"github.com/mbd888/remediation-agent/internal/idgen"
	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// effectKey identifies a (patternType, affectedValue) pair so Trend can
// compare this cycle's effect size against the previous one for the same
// affected entity.
type effectKey struct {
	patternType string
	affected    string
}

// Reasoner detects patterns against rolling baselines and turns each into
// ranked root-cause hypotheses.
type Reasoner struct {
	baselines  *baselines
	thresholds *thresholdStore

	mu          sync.Mutex
	lastEffects map[effectKey]float64
}

// New creates a Reasoner with spec.md §4.2's initial baseline values and
// default detector thresholds.
func New() *Reasoner {
	return &Reasoner{
		baselines:   newBaselines(),
		thresholds:  newThresholdStore(),
		lastEffects: make(map[effectKey]float64),
	}
}

// Analyze runs every detector against the Observer's current summary and
// returns the resulting Patterns sorted by severity descending. A broken
// detector never suppresses the others (spec.md §7): each detector runs in
// its own recovered scope.
func (r *Reasoner) Analyze(summary observer.Summary) []Pattern {
	var all []Pattern
	runDetector := func(fn func() []Pattern) {
		defer func() { recover() }()
		all = append(all, fn()...)
	}

	runDetector(func() []Pattern {
		return detectIssuerDegradation(summary, r.baselines, r.Threshold(payment.PatternIssuerDegradation))
	})
	runDetector(func() []Pattern {
		return detectRetryStorm(summary, r.Threshold(payment.PatternRetryStorm))
	})
	runDetector(func() []Pattern {
		return detectMethodFatigue(summary, r.baselines, r.Threshold(payment.PatternMethodFatigue))
	})
	runDetector(func() []Pattern {
		return detectLatencySpike(summary, r.baselines, r.Threshold(payment.PatternLatencySpike))
	})
	runDetector(func() []Pattern {
		return detectErrorCluster(summary, int64(r.Threshold(payment.PatternErrorCluster)))
	})
	runDetector(func() []Pattern {
		return detectGeographicIssue(summary, r.Threshold(payment.PatternGeographicIssue))
	})

	now := time.Now()
	for i := range all {
		all[i].ID = idgen.WithPrefix("pat_")
		all[i].DetectedAt = now
		all[i].Trend = r.trendFor(all[i])
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Severity > all[j].Severity })
	return all
}

// trendFor compares the pattern's effect-size metric ("gap", "factor",
// "retryRatio", or "errorRate" depending on type) against the last cycle's
// value for the same (type, affectedValue), then records the new value.
func (r *Reasoner) trendFor(p Pattern) Trend {
	effect, ok := effectMetric(p)
	if !ok {
		return TrendUnknown
	}

	key := effectKey{patternType: string(p.Type), affected: p.AffectedValue}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.lastEffects[key]
	r.lastEffects[key] = effect
	if !seen {
		return TrendUnknown
	}

	const stableBand = 0.02
	switch {
	case effect > prev+stableBand:
		return TrendIncreasing
	case effect < prev-stableBand:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func effectMetric(p Pattern) (float64, bool) {
	for _, key := range []string{"gap", "factor", "retryRatio", "errorRate"} {
		if v, ok := p.Metrics[key]; ok {
			return v, true
		}
	}
	return 0, false
}

// GenerateHypotheses is the Reasoner-bound entry point; it delegates to the
// package-level fixed-library generator.
func (r *Reasoner) GenerateHypotheses(p Pattern) []Hypothesis {
	return GenerateHypotheses(p)
}

// UpdateBaselines folds the Observer's current summary into the EMA
// baselines, gated by spec.md §4.2's healthy-observation criteria.
func (r *Reasoner) UpdateBaselines(summary observer.Summary) {
	issuerSuccess := make(map[string]float64, len(summary.ByIssuer))
	issuerVolume := make(map[string]int64, len(summary.ByIssuer))
	issuerLatency := make(map[string]float64, len(summary.ByIssuer))
	for k, d := range summary.ByIssuer {
		issuerSuccess[k] = d.SuccessRate
		issuerVolume[k] = d.Total
		issuerLatency[k] = d.Latency.Mean
	}

	methodSuccess := make(map[string]float64, len(summary.ByMethod))
	methodLatency := make(map[string]float64, len(summary.ByMethod))
	for k, d := range summary.ByMethod {
		methodSuccess[k] = d.SuccessRate
		methodLatency[k] = d.Latency.Mean
	}

	r.baselines.update(
		summary.Overall.SuccessRate, summary.Overall.Latency.Mean,
		issuerSuccess, issuerVolume, issuerLatency,
		methodSuccess, methodLatency,
		summary.RetryEfficiency,
	)
}

// OverallBaseline exposes the current overall success-rate baseline, used
// by the Decision Maker / Learner for threshold comparisons.
func (r *Reasoner) OverallBaseline() float64 { return r.baselines.Overall() }

// IssuerBaseline exposes one issuer's success-rate baseline.
func (r *Reasoner) IssuerBaseline(issuer string) float64 { return r.baselines.Issuer(issuer) }

// MethodBaseline exposes one method's success-rate baseline.
func (r *Reasoner) MethodBaseline(method string) float64 { return r.baselines.Method(method) }

// LatencyBaseline exposes the latency baseline for "overall",
// "issuer:<name>", or "method:<name>".
func (r *Reasoner) LatencyBaseline(key string) float64 { return r.baselines.Latency(key) }

// RetryEfficiencyBaseline exposes the current retry-efficiency baseline.
func (r *Reasoner) RetryEfficiencyBaseline() float64 { return r.baselines.RetryEfficiency() }
