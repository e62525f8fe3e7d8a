package reasoner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/observer"
	"github.com/mbd888/remediation-agent/internal/payment"
)

func seedObserver(t *testing.T, txns []payment.Transaction) observer.Summary {
	t.Helper()
	o := observer.New(10 * time.Minute)
	require.NoError(t, o.IngestBatch(txns))
	return o.Summarize()
}

func TestHealthyTrafficProducesNoPatterns(t *testing.T) {
	now := time.Now()
	var txns []payment.Transaction
	for i := 0; i < 500; i++ {
		status := payment.StatusSuccess
		if i%20 == 0 {
			status = payment.StatusFailed
		}
		txns = append(txns, payment.Transaction{
			ID:            "t" + string(rune(i)),
			Timestamp:     now,
			PaymentMethod: payment.MethodCreditCard,
			Status:        status,
			Issuer:        "issuer-a",
			Region:        "us-east",
			MerchantID:    "m1",
			LatencyMs:     200,
		})
	}
	summary := seedObserver(t, txns)

	r := New()
	patterns := r.Analyze(summary)
	require.Empty(t, patterns)
}

func TestIssuerDegradationDetected(t *testing.T) {
	now := time.Now()
	var txns []payment.Transaction
	for i := 0; i < 200; i++ {
		status := payment.StatusFailed
		if i%10 < 4 {
			status = payment.StatusSuccess
		}
		txns = append(txns, payment.Transaction{
			ID:            "hdfc" + string(rune(i)),
			Timestamp:     now,
			PaymentMethod: payment.MethodCreditCard,
			Status:        status,
			Issuer:        "HDFC",
			Region:        "us-east",
			MerchantID:    "m1",
			LatencyMs:     200,
		})
	}
	summary := seedObserver(t, txns)

	r := New()
	patterns := r.Analyze(summary)

	// Every transaction is credit_card, so credit_card's 0.40 success rate
	// against its 0.95 baseline trips method_fatigue alongside the issuer
	// pattern.
	require.Len(t, patterns, 2)
	var issuerPatterns []Pattern
	for _, p := range patterns {
		if p.Type == payment.PatternIssuerDegradation {
			issuerPatterns = append(issuerPatterns, p)
		}
	}
	require.Len(t, issuerPatterns, 1)
	issuerPattern := issuerPatterns[0]
	require.GreaterOrEqual(t, issuerPattern.Severity, 0.5)
	require.GreaterOrEqual(t, issuerPattern.Confidence, 0.5)

	hyps := r.GenerateHypotheses(issuerPattern)
	var sum float64
	for _, h := range hyps {
		sum += h.Probability
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestConfidenceClampedToUnitInterval(t *testing.T) {
	require.LessOrEqual(t, confidence(1000, 10), 1.0)
	require.GreaterOrEqual(t, confidence(0, 0), 0.0)
}

func TestBaselineOnlyMovesOnHealthyObservations(t *testing.T) {
	r := New()
	before := r.OverallBaseline()

	unhealthy := observer.Summary{Overall: observer.DimensionStat{SuccessRate: 0.50}}
	r.UpdateBaselines(unhealthy)
	require.Equal(t, before, r.OverallBaseline(), "an unhealthy observation must not move the baseline")

	healthy := observer.Summary{Overall: observer.DimensionStat{SuccessRate: 0.99}}
	r.UpdateBaselines(healthy)
	require.NotEqual(t, before, r.OverallBaseline())
}

func TestAdjustThresholdScalesDetectorSensitivity(t *testing.T) {
	r := New()
	base := r.Threshold(payment.PatternIssuerDegradation)
	r.AdjustThreshold(payment.PatternIssuerDegradation, 1.2)
	require.InDelta(t, base*1.2, r.Threshold(payment.PatternIssuerDegradation), 1e-9)
}
