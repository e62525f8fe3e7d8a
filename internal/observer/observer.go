// Package observer ingests payment transactions and maintains rolling,
// sliding-window statistics over them by dimension (overall, issuer,
// method, region, merchant). It owns the window-consistency invariants
// spec.md §3/§8 depend on: every mutation and every window-sensitive read
// first evicts stale entries, and eviction decrements exactly the counters
// ingestion incremented.
package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/mbd888/remediation-agent/internal/metrics"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// DefaultWindow is the Observer's default sliding-window size (spec.md §4.1).
const DefaultWindow = 10 * time.Minute

const (
	overallRingSize = 1000
	keyRingSize     = 100
)

// Counter is the success/failed/total triple maintained per dimension key.
type Counter struct {
	Success int64
	Failed  int64
	Total   int64
}

// SuccessRate returns success/total, defaulting to 1.0 when total is 0
// (spec.md §4.1).
func (c Counter) SuccessRate() float64 {
	if c.Total == 0 {
		return 1.0
	}
	return float64(c.Success) / float64(c.Total)
}

// FailureRate returns failed/total, defaulting to 0.0 when total is 0.
func (c Counter) FailureRate() float64 {
	if c.Total == 0 {
		return 0.0
	}
	return float64(c.Failed) / float64(c.Total)
}

// LatencyStats is the percentile summary computed on demand from a
// latency ring.
type LatencyStats struct {
	Mean float64
	P50  float64
	P95  float64
	P99  float64
	Max  float64
}

// retryChain tracks one originalTransactionId's retry attempts.
type retryChain struct {
	attempted int
	succeeded int
}

// entry is a single transaction held in the sliding window, trimmed to the
// fields eviction bookkeeping needs.
type entry struct {
	txn payment.Transaction
}

// ring is a fixed-capacity ring buffer of latency samples.
type ring struct {
	samples []float64
	cap     int
	next    int
	filled  bool
}

func newRing(cap int) *ring {
	return &ring{samples: make([]float64, 0, cap), cap: cap}
}

func (r *ring) add(v float64) {
	if len(r.samples) < r.cap {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % r.cap
	r.filled = true
}

func (r *ring) stats() LatencyStats {
	n := len(r.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, r.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	pct := func(p float64) float64 {
		idx := int(p * float64(n-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	return LatencyStats{
		Mean: sum / float64(n),
		P50:  pct(0.50),
		P95:  pct(0.95),
		P99:  pct(0.99),
		Max:  sorted[n-1],
	}
}

// dimStats bundles a dimension's counters + latency ring + keyed children.
type dimStats struct {
	counter Counter
	latency *ring
}

// Observer ingests transactions and serves windowed statistics.
type Observer struct {
	mu sync.Mutex

	window  time.Duration
	entries []entry // kept in arrival order

	overall       dimStats
	byIssuer      map[string]*dimStats
	byMethod      map[string]*dimStats
	byRegion      map[string]*dimStats
	byMerchant    map[string]*dimStats
	errorCounts   map[string]int64
	retryChains   map[string]*retryChain

	now func() time.Time // overridable for tests
}

// New creates an Observer with the given sliding window size. A zero
// window falls back to DefaultWindow.
func New(window time.Duration) *Observer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Observer{
		window:      window,
		overall:     dimStats{latency: newRing(overallRingSize)},
		byIssuer:    make(map[string]*dimStats),
		byMethod:    make(map[string]*dimStats),
		byRegion:    make(map[string]*dimStats),
		byMerchant:  make(map[string]*dimStats),
		errorCounts: make(map[string]int64),
		retryChains: make(map[string]*retryChain),
		now:         time.Now,
	}
}

// Ingest validates and admits a single transaction into the window.
// Invalid transactions are rejected at the boundary (spec.md §7,
// InputInvalid) and never mutate state.
func (o *Observer) Ingest(txn payment.Transaction) error {
	if err := txn.Validate(); err != nil {
		metrics.TransactionsRejectedTotal.Inc()
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.evictLocked()
	o.entries = append(o.entries, entry{txn: txn})
	o.applyLocked(txn, +1)
	metrics.TransactionsIngestedTotal.WithLabelValues(string(txn.Status)).Inc()
	return nil
}

// IngestBatch admits each transaction in order, short-circuiting on the
// first invalid record without admitting any transaction after it's slot
// (each valid transaction before the bad one is still admitted).
func (o *Observer) IngestBatch(batch []payment.Transaction) error {
	for i := range batch {
		if err := o.Ingest(batch[i]); err != nil {
			return err
		}
	}
	return nil
}

// evictLocked removes every window entry older than now-window and
// reverses its contribution to every counter it touched. Caller must hold
// o.mu.
func (o *Observer) evictLocked() {
	cutoff := o.now().Add(-o.window)
	i := 0
	for i < len(o.entries) && o.entries[i].txn.Timestamp.Before(cutoff) {
		o.applyLocked(o.entries[i].txn, -1)
		i++
	}
	if i > 0 {
		o.entries = o.entries[i:]
	}
}

// applyLocked increments (sign=+1) or decrements (sign=-1) every counter a
// transaction touches: overall, issuer, method, region, merchant, error
// codes, and retry chains. Latency rings are append-only (they are not
// reversed on eviction — they hold recent samples, not a running sum, so
// eviction simply lets old samples age out of relevance).
func (o *Observer) applyLocked(txn payment.Transaction, sign int64) {
	applyCounter(&o.overall.counter, txn.Status, sign)
	if sign > 0 {
		o.overall.latency.add(txn.LatencyMs)
	}

	applyKeyed(o.byIssuer, txn.Issuer, txn, sign, true)
	applyKeyed(o.byMethod, string(txn.PaymentMethod), txn, sign, true)
	applyKeyed(o.byRegion, txn.Region, txn, sign, false)
	applyKeyed(o.byMerchant, txn.MerchantID, txn, sign, false)

	if txn.Status == payment.StatusFailed && txn.ErrorCode != "" {
		o.errorCounts[txn.ErrorCode] += sign
		if o.errorCounts[txn.ErrorCode] <= 0 {
			delete(o.errorCounts, txn.ErrorCode)
		}
	}

	if txn.IsRetry && txn.OriginalTransactionID != "" {
		rc, ok := o.retryChains[txn.OriginalTransactionID]
		if !ok {
			if sign < 0 {
				return
			}
			rc = &retryChain{}
			o.retryChains[txn.OriginalTransactionID] = rc
		}
		rc.attempted += int(sign)
		if txn.Status == payment.StatusSuccess {
			rc.succeeded += int(sign)
		}
		if rc.attempted <= 0 {
			delete(o.retryChains, txn.OriginalTransactionID)
		}
	}
}

func applyCounter(c *Counter, status payment.Status, sign int64) {
	switch status {
	case payment.StatusSuccess:
		c.Success += sign
	case payment.StatusFailed:
		c.Failed += sign
	}
	c.Total += sign
}

// applyKeyed updates the per-key dimStats map, creating entries on demand
// and tracking latency only when withLatency is set (region/merchant don't
// get their own latency ring per spec.md §4.1 — only overall/issuer/method
// do).
func applyKeyed(m map[string]*dimStats, key string, txn payment.Transaction, sign int64, withLatency bool) {
	if key == "" {
		return
	}
	ds, ok := m[key]
	if !ok {
		if sign < 0 {
			return
		}
		ds = &dimStats{}
		if withLatency {
			ds.latency = newRing(keyRingSize)
		}
		m[key] = ds
	}
	applyCounter(&ds.counter, txn.Status, sign)
	if sign > 0 && withLatency && ds.latency != nil {
		ds.latency.add(txn.LatencyMs)
	}
	if ds.counter.Total <= 0 {
		delete(m, key)
	}
}
