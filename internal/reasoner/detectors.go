package reasoner

import (
	"fmt"
	"math"

	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// Volume floors are fixed per spec.md §4.2's table; only the effect-size
// thresholds are learner-adjustable (see thresholds.go).
const (
	issuerDegradationVolumeFloor = 10
	methodFatigueVolumeFloor     = 20
	geographicVolumeFloor        = 10
)

// confidence implements spec.md §4.2's formula:
// sqrt(sigmoid(0.05*(n-50)) * min(effect/0.30, 1)), clamped to [0,1].
func confidence(n int64, effect float64) float64 {
	sig := sigmoid(0.05 * (float64(n) - 50))
	capped := math.Min(effect/0.30, 1)
	if capped < 0 {
		capped = 0
	}
	v := math.Sqrt(sig * capped)
	return clamp01(v)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// detectIssuerDegradation fires per issuer whose baseline-relative success
// gap is >= gapThreshold (spec.md default 0.15) with >= 10 in-window
// transactions.
func detectIssuerDegradation(summary observer.Summary, b *baselines, gapThreshold float64) []Pattern {
	var out []Pattern
	for issuer, stat := range summary.ByIssuer {
		if stat.Total < issuerDegradationVolumeFloor {
			continue
		}
		baseline := b.Issuer(issuer)
		gap := baseline - stat.SuccessRate
		if gap < gapThreshold {
			continue
		}
		severity := math.Min(gap/0.30, 1)
		p := Pattern{
			Type:              payment.PatternIssuerDegradation,
			Description:       fmt.Sprintf("issuer %s success rate dropped to %.2f (baseline %.2f)", issuer, stat.SuccessRate, baseline),
			Severity:          severity,
			Confidence:        confidence(stat.Total, gap),
			AffectedDimension: payment.DimensionIssuer,
			AffectedValue:     issuer,
			Metrics: map[string]float64{
				"baselineSuccessRate": baseline,
				"currentSuccessRate":  stat.SuccessRate,
				"gap":                 gap,
				"volume":              float64(stat.Total),
				"avgLatencyMs":        stat.Latency.Mean,
			},
			Evidence: []string{
				fmt.Sprintf("%d transactions observed for issuer %s", stat.Total, issuer),
				fmt.Sprintf("success rate %.2f vs baseline %.2f", stat.SuccessRate, baseline),
			},
		}
		out = append(out, p)
	}
	return out
}

// detectRetryStorm fires once overall when the fraction of in-window
// transactions that are retries reaches ratioThreshold (spec.md default
// 0.40).
func detectRetryStorm(summary observer.Summary, ratioThreshold float64) []Pattern {
	if summary.Overall.Total == 0 {
		return nil
	}
	retryRatio := float64(summary.RetryAttempted) / float64(summary.Overall.Total)
	if retryRatio < ratioThreshold {
		return nil
	}
	severity := math.Min(retryRatio/0.60, 1)
	return []Pattern{{
		Type:              payment.PatternRetryStorm,
		Description:       fmt.Sprintf("retry volume at %.0f%% of traffic, retry efficiency %.2f", retryRatio*100, summary.RetryEfficiency),
		Severity:          severity,
		Confidence:        confidence(summary.Overall.Total, retryRatio),
		AffectedDimension: payment.DimensionOverall,
		AffectedValue:     "overall",
		Metrics: map[string]float64{
			"retryRatio":      retryRatio,
			"retryEfficiency": summary.RetryEfficiency,
			"retryAttempted":  float64(summary.RetryAttempted),
		},
		Evidence: []string{
			fmt.Sprintf("%d of %d transactions are retries", summary.RetryAttempted, summary.Overall.Total),
		},
	}}
}

// detectMethodFatigue fires per payment method whose baseline-relative
// success gap is >= gapThreshold (spec.md default 0.20) with >= 20
// in-window transactions.
func detectMethodFatigue(summary observer.Summary, b *baselines, gapThreshold float64) []Pattern {
	var out []Pattern
	for method, stat := range summary.ByMethod {
		if stat.Total < methodFatigueVolumeFloor {
			continue
		}
		baseline := b.Method(method)
		gap := baseline - stat.SuccessRate
		if gap < gapThreshold {
			continue
		}
		severity := math.Min(gap/0.40, 1)
		out = append(out, Pattern{
			Type:              payment.PatternMethodFatigue,
			Description:       fmt.Sprintf("payment method %s success rate dropped to %.2f (baseline %.2f)", method, stat.SuccessRate, baseline),
			Severity:          severity,
			Confidence:        confidence(stat.Total, gap),
			AffectedDimension: payment.DimensionMethod,
			AffectedValue:     method,
			Metrics: map[string]float64{
				"baselineSuccessRate": baseline,
				"currentSuccessRate":  stat.SuccessRate,
				"gap":                 gap,
				"volume":              float64(stat.Total),
			},
			Evidence: []string{
				fmt.Sprintf("%d transactions observed for method %s", stat.Total, method),
			},
		})
	}
	return out
}

// detectLatencySpike fires for overall and per-issuer/per-method latency
// when p95 reaches factorThreshold (spec.md default 1.5) times the
// baseline mean.
func detectLatencySpike(summary observer.Summary, b *baselines, factorThreshold float64) []Pattern {
	var out []Pattern

	check := func(dim payment.Dimension, key string, baselineKey string, p95, volume float64) {
		baseline := b.Latency(baselineKey)
		if baseline <= 0 {
			return
		}
		factor := p95 / baseline
		if factor < factorThreshold {
			return
		}
		severity := math.Min((factor-1)/2, 1)
		out = append(out, Pattern{
			Type:              payment.PatternLatencySpike,
			Description:       fmt.Sprintf("%s p95 latency %.0fms is %.1fx baseline %.0fms", key, p95, factor, baseline),
			Severity:          severity,
			Confidence:        confidence(int64(volume), factor-1),
			AffectedDimension: dim,
			AffectedValue:     key,
			Metrics: map[string]float64{
				"baselineLatencyMs": baseline,
				"currentP95Ms":      p95,
				"factor":            factor,
			},
			Evidence: []string{
				fmt.Sprintf("p95 latency %.0fms vs baseline %.0fms", p95, baseline),
			},
		})
	}

	if summary.Overall.Total > 0 {
		check(payment.DimensionOverall, "overall", "overall", summary.Overall.Latency.P95, float64(summary.Overall.Total))
	}
	for issuer, stat := range summary.ByIssuer {
		check(payment.DimensionIssuer, issuer, "issuer:"+issuer, stat.Latency.P95, float64(stat.Total))
	}
	for method, stat := range summary.ByMethod {
		check(payment.DimensionMethod, method, "method:"+method, stat.Latency.P95, float64(stat.Total))
	}
	return out
}

// detectErrorCluster fires per error code that reaches a raw count of
// countThreshold (spec.md default 10) or more within the window.
func detectErrorCluster(summary observer.Summary, countThreshold int64) []Pattern {
	var out []Pattern
	total := summary.Overall.Total
	for _, ec := range summary.TopErrors {
		if ec.Count < countThreshold {
			continue
		}
		var rate float64
		if total > 0 {
			rate = float64(ec.Count) / float64(total)
		}
		severity := math.Min(rate/0.10, 1)
		out = append(out, Pattern{
			Type:              payment.PatternErrorCluster,
			Description:       fmt.Sprintf("error code %s occurred %d times (%.1f%% of traffic)", ec.Code, ec.Count, rate*100),
			Severity:          severity,
			Confidence:        confidence(ec.Count, rate),
			AffectedDimension: payment.DimensionOverall,
			AffectedValue:     ec.Code,
			Metrics: map[string]float64{
				"errorCount": float64(ec.Count),
				"errorRate":  rate,
			},
			Evidence: []string{
				fmt.Sprintf("%d occurrences of error code %s", ec.Count, ec.Code),
			},
		})
	}
	return out
}

// detectGeographicIssue fires per region whose success rate trails the
// overall rate by >= gapThreshold (spec.md default 0.20) with >= 10
// in-window transactions.
func detectGeographicIssue(summary observer.Summary, gapThreshold float64) []Pattern {
	var out []Pattern
	overallRate := summary.Overall.SuccessRate
	for region, stat := range summary.ByRegion {
		if stat.Total < geographicVolumeFloor {
			continue
		}
		gap := overallRate - stat.SuccessRate
		if gap < gapThreshold {
			continue
		}
		severity := math.Min(gap/0.40, 1)
		out = append(out, Pattern{
			Type:              payment.PatternGeographicIssue,
			Description:       fmt.Sprintf("region %s success rate %.2f trails overall %.2f", region, stat.SuccessRate, overallRate),
			Severity:          severity,
			Confidence:        confidence(stat.Total, gap),
			AffectedDimension: payment.DimensionRegion,
			AffectedValue:     region,
			Metrics: map[string]float64{
				"overallSuccessRate": overallRate,
				"regionSuccessRate":  stat.SuccessRate,
				"gap":                gap,
				"volume":             float64(stat.Total),
			},
			Evidence: []string{
				fmt.Sprintf("%d transactions observed for region %s", stat.Total, region),
			},
		})
	}
	return out
}
