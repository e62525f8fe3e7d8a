package observer

import "sort"

// Summary is the read-only snapshot returned to the Reasoner each cycle
// (spec.md §4.1's "Observer surfaces"). CostPerTxn/ErrorRate are carried so
// the Executor's optional rollback triggers (SPEC_FULL.md §5) never need to
// fall back to the escape hatch spec.md allows when they're absent.
type Summary struct {
	Overall         DimensionStat
	ByIssuer        map[string]DimensionStat
	ByMethod        map[string]DimensionStat
	ByRegion        map[string]DimensionStat
	ByMerchant      map[string]DimensionStat
	TopErrors       []ErrorCount
	RetryEfficiency float64
	RetryAttempted  int64
	RetrySucceeded  int64
}

// DimensionStat is one dimension key's counters, latency, derived rate and
// cost fields.
type DimensionStat struct {
	Key         string
	Success     int64
	Failed      int64
	Total       int64
	SuccessRate float64
	FailureRate float64
	Latency     LatencyStats
	CostPerTxn  float64
	ErrorRate   float64
}

// ErrorCount is one (errorCode, count) pair from TopErrors.
type ErrorCount struct {
	Code  string
	Count int64
}

// baseCostPerTxn is a flat placeholder processing cost; it lets
// cost_increase rollback comparisons (SPEC_FULL.md §5) be exercised without
// a real billing integration, which spec.md's Non-goals exclude.
const baseCostPerTxn = 0.30

// retryCostMultiplier scales cost up for a dimension in proportion to its
// failure rate, modeling that failed attempts still consume processor cost.
const retryCostMultiplier = 1.5

func dimStatFrom(key string, d dimStats) DimensionStat {
	stat := DimensionStat{
		Key:         key,
		Success:     d.counter.Success,
		Failed:      d.counter.Failed,
		Total:       d.counter.Total,
		SuccessRate: d.counter.SuccessRate(),
		FailureRate: d.counter.FailureRate(),
		ErrorRate:   d.counter.FailureRate(),
	}
	if d.latency != nil {
		stat.Latency = d.latency.stats()
	}
	stat.CostPerTxn = baseCostPerTxn * (1 + (retryCostMultiplier-1)*stat.FailureRate)
	return stat
}

// Summarize evicts stale entries and returns a full snapshot across every
// dimension. Called once per cycle by the control loop's observe stage,
// which hands the result to the Reasoner (spec.md §2).
func (o *Observer) Summarize() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()

	s := Summary{
		Overall:    dimStatFrom("overall", o.overall),
		ByIssuer:   make(map[string]DimensionStat, len(o.byIssuer)),
		ByMethod:   make(map[string]DimensionStat, len(o.byMethod)),
		ByRegion:   make(map[string]DimensionStat, len(o.byRegion)),
		ByMerchant: make(map[string]DimensionStat, len(o.byMerchant)),
	}
	for k, d := range o.byIssuer {
		s.ByIssuer[k] = dimStatFrom(k, *d)
	}
	for k, d := range o.byMethod {
		s.ByMethod[k] = dimStatFrom(k, *d)
	}
	for k, d := range o.byRegion {
		s.ByRegion[k] = dimStatFrom(k, *d)
	}
	for k, d := range o.byMerchant {
		s.ByMerchant[k] = dimStatFrom(k, *d)
	}

	s.TopErrors = o.topErrorsLocked(5)

	var attempted, succeeded int64
	for _, rc := range o.retryChains {
		attempted += int64(rc.attempted)
		succeeded += int64(rc.succeeded)
	}
	s.RetryAttempted = attempted
	s.RetrySucceeded = succeeded
	if attempted > 0 {
		s.RetryEfficiency = float64(succeeded) / float64(attempted)
	}

	return s
}

// SuccessRate returns the overall success rate after evicting stale
// entries.
func (o *Observer) SuccessRate() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()
	return o.overall.counter.SuccessRate()
}

// TransactionVolume returns the overall transaction count currently in the
// window.
func (o *Observer) TransactionVolume() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()
	return o.overall.counter.Total
}

// IssuerHealth returns the DimensionStat for a single issuer, or the zero
// value (100% success rate, by Counter.SuccessRate's convention) if unseen.
func (o *Observer) IssuerHealth(issuer string) DimensionStat {
	return o.dimensionLocked(o.byIssuer, issuer)
}

// MethodPerformance returns the DimensionStat for a single payment method.
func (o *Observer) MethodPerformance(method string) DimensionStat {
	return o.dimensionLocked(o.byMethod, method)
}

func (o *Observer) dimensionLocked(m map[string]*dimStats, key string) DimensionStat {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()
	d, ok := m[key]
	if !ok {
		return DimensionStat{Key: key, SuccessRate: 1.0}
	}
	return dimStatFrom(key, *d)
}

// TopErrors returns the n most frequent error codes currently in the
// window, descending by count.
func (o *Observer) TopErrors(n int) []ErrorCount {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()
	return o.topErrorsLocked(n)
}

func (o *Observer) topErrorsLocked(n int) []ErrorCount {
	out := make([]ErrorCount, 0, len(o.errorCounts))
	for code, count := range o.errorCounts {
		out = append(out, ErrorCount{Code: code, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RetryEfficiency returns succeeded/attempted across every open retry
// chain currently in the window, 0 if none.
func (o *Observer) RetryEfficiency() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked()
	var attempted, succeeded int64
	for _, rc := range o.retryChains {
		attempted += int64(rc.attempted)
		succeeded += int64(rc.succeeded)
	}
	if attempted == 0 {
		return 0
	}
	return float64(succeeded) / float64(attempted)
}
