package reasoner

import "sync"

// emaAlpha is the exponential moving average smoothing factor spec.md §4.2
// and §9 fix at 0.1.
const emaAlpha = 0.1

// Initial baseline values (spec.md §4.2).
const (
	initialOverallSuccessRate = 0.95
	initialIssuerSuccessRate  = 0.95
	initialMethodSuccessRate  = 0.95
	initialAvgLatencyMs       = 200.0
	initialRetryEfficiency    = 0.60
)

// healthyIssuerVolumeFloor is the minimum in-window volume an issuer needs
// before its success rate is allowed to move the baseline (spec.md §4.2).
const healthyIssuerVolumeFloor = 20

// healthySuccessFloor is the minimum success rate an observation must clear
// to be judged "healthy" for either overall or per-issuer baselines.
const healthySuccessFloor = 0.90

// baselines holds the Reasoner's EMA state: scalars for overall success and
// retry efficiency, and per-key maps for method success, issuer success and
// latency, mirroring
// the shape the Observer exposes.
type baselines struct {
	mu sync.RWMutex

	overallSuccessRate float64
	methodSuccessRate  map[string]float64
	issuerSuccessRate  map[string]float64
	avgLatencyMs       map[string]float64 // keyed by "overall" or "issuer:<name>" or "method:<name>"
	retryEfficiency    float64
}

func newBaselines() *baselines {
	return &baselines{
		overallSuccessRate: initialOverallSuccessRate,
		methodSuccessRate:  make(map[string]float64),
		issuerSuccessRate:  make(map[string]float64),
		avgLatencyMs:       make(map[string]float64),
		retryEfficiency:    initialRetryEfficiency,
	}
}

func ema(old, obs float64) float64 {
	return (1-emaAlpha)*old + emaAlpha*obs
}

// Overall returns the current overall success-rate baseline.
func (b *baselines) Overall() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overallSuccessRate
}

// Issuer returns the issuer's success-rate baseline, seeding the initial
// value on first read.
func (b *baselines) Issuer(issuer string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.issuerSuccessRate[issuer]; ok {
		return v
	}
	return initialIssuerSuccessRate
}

// Method returns the method's success-rate baseline, seeding the initial
// value on first read.
func (b *baselines) Method(method string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.methodSuccessRate[method]; ok {
		return v
	}
	return initialMethodSuccessRate
}

// Latency returns the latency baseline for a key ("overall", "issuer:X",
// "method:X"), seeding the initial value on first read.
func (b *baselines) Latency(key string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.avgLatencyMs[key]; ok {
		return v
	}
	return initialAvgLatencyMs
}

// RetryEfficiency returns the current retry-efficiency baseline.
func (b *baselines) RetryEfficiency() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.retryEfficiency
}

// update applies spec.md §4.2's healthy-observation gating to the overall,
// issuer and method success rates; latency baselines move whenever the
// observed mean is positive, and retry efficiency moves on every call.
func (b *baselines) update(overallSuccess float64, overallLatencyMean float64,
	issuerSuccess map[string]float64, issuerVolume map[string]int64, issuerLatency map[string]float64,
	methodSuccess map[string]float64, methodLatency map[string]float64,
	retryEfficiency float64) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if overallSuccess >= healthySuccessFloor {
		b.overallSuccessRate = ema(b.overallSuccessRate, overallSuccess)
	}
	if overallLatencyMean > 0 {
		cur, ok := b.avgLatencyMs["overall"]
		if !ok {
			cur = initialAvgLatencyMs
		}
		b.avgLatencyMs["overall"] = ema(cur, overallLatencyMean)
	}

	for issuer, success := range issuerSuccess {
		if success >= healthySuccessFloor && issuerVolume[issuer] >= healthyIssuerVolumeFloor {
			cur, ok := b.issuerSuccessRate[issuer]
			if !ok {
				cur = initialIssuerSuccessRate
			}
			b.issuerSuccessRate[issuer] = ema(cur, success)
		}
	}
	for issuer, latency := range issuerLatency {
		if latency > 0 {
			key := "issuer:" + issuer
			cur, ok := b.avgLatencyMs[key]
			if !ok {
				cur = initialAvgLatencyMs
			}
			b.avgLatencyMs[key] = ema(cur, latency)
		}
	}

	for method, success := range methodSuccess {
		if success >= healthySuccessFloor {
			cur, ok := b.methodSuccessRate[method]
			if !ok {
				cur = initialMethodSuccessRate
			}
			b.methodSuccessRate[method] = ema(cur, success)
		}
	}
	for method, latency := range methodLatency {
		if latency > 0 {
			key := "method:" + method
			cur, ok := b.avgLatencyMs[key]
			if !ok {
				cur = initialAvgLatencyMs
			}
			b.avgLatencyMs[key] = ema(cur, latency)
		}
	}

	b.retryEfficiency = ema(b.retryEfficiency, retryEfficiency)
}
