package reasoner

import (
	"time"

	"github.com/mbd888/remediation-agent/internal/idgen"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// rootCause is one library entry: a fixed tag plus a rule that derives its
// initial (pre-normalisation) probability from the Pattern's own metrics.
type rootCause struct {
	tag     string
	initial func(p Pattern) float64
}

// rootCauseLibrary maps each pattern type to its fixed candidate root
// causes, per spec.md §4.2's "fixed library" contract. Only issuer_degradation's
// weights are specified exactly by spec.md; the remaining five follow the
// same shape (two metric-conditioned candidates plus one fixed baseline
// candidate), grounded on the same conditional-probability style.
var rootCauseLibrary = map[payment.PatternType][]rootCause{
	payment.PatternIssuerDegradation: {
		{tag: "issuer_down", initial: func(p Pattern) float64 {
			if p.Metrics["currentSuccessRate"] < 0.20 {
				return 0.6
			}
			return 0.3
		}},
		{tag: "issuer_throttling", initial: func(p Pattern) float64 {
			if p.Metrics["avgLatencyMs"] > 500 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "network_issue", initial: func(Pattern) float64 { return 0.2 }},
	},
	payment.PatternRetryStorm: {
		{tag: "downstream_timeout", initial: func(p Pattern) float64 {
			if p.Metrics["retryEfficiency"] < 0.30 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "client_retry_misconfiguration", initial: func(Pattern) float64 { return 0.3 }},
		{tag: "transient_network_issue", initial: func(Pattern) float64 { return 0.2 }},
	},
	payment.PatternMethodFatigue: {
		{tag: "method_processor_outage", initial: func(p Pattern) float64 {
			if p.Metrics["currentSuccessRate"] < 0.50 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "method_config_drift", initial: func(Pattern) float64 { return 0.3 }},
		{tag: "seasonal_demand_shift", initial: func(Pattern) float64 { return 0.2 }},
	},
	payment.PatternLatencySpike: {
		{tag: "downstream_slowdown", initial: func(p Pattern) float64 {
			if p.Metrics["factor"] > 2.0 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "resource_saturation", initial: func(Pattern) float64 { return 0.3 }},
		{tag: "network_latency", initial: func(Pattern) float64 { return 0.2 }},
	},
	payment.PatternErrorCluster: {
		{tag: "upstream_validation_change", initial: func(p Pattern) float64 {
			if p.Metrics["errorRate"] > 0.05 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "integration_bug", initial: func(Pattern) float64 { return 0.3 }},
		{tag: "isolated_incident", initial: func(Pattern) float64 { return 0.2 }},
	},
	payment.PatternGeographicIssue: {
		{tag: "regional_outage", initial: func(p Pattern) float64 {
			if p.Metrics["gap"] > 0.30 {
				return 0.5
			}
			return 0.3
		}},
		{tag: "local_regulatory_block", initial: func(Pattern) float64 { return 0.3 }},
		{tag: "infrastructure_latency", initial: func(Pattern) float64 { return 0.2 }},
	},
}

// GenerateHypotheses consults the fixed root-cause library for pattern.Type
// and returns candidates with probabilities normalised to sum to 1
// (spec.md §4.2, §3 invariant "Hypothesis probabilities sum to 1 ± 1e-6").
func GenerateHypotheses(p Pattern) []Hypothesis {
	causes := rootCauseLibrary[p.Type]
	if len(causes) == 0 {
		return nil
	}

	raw := make([]float64, len(causes))
	var sum float64
	for i, c := range causes {
		raw[i] = c.initial(p)
		sum += raw[i]
	}
	if sum <= 0 {
		sum = 1
	}

	now := time.Now()
	out := make([]Hypothesis, len(causes))
	for i, c := range causes {
		out[i] = Hypothesis{
			ID:                 idgen.WithPrefix("hyp_"),
			PatternID:          p.ID,
			RootCause:          c.tag,
			Probability:        raw[i] / sum,
			SupportingEvidence: p.Evidence,
			CreatedAt:          now,
		}
	}
	return out
}
