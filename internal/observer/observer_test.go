package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/payment"
)

func txn(id string, ts time.Time, status payment.Status, latency float64) payment.Transaction {
	return payment.Transaction{
		ID:            id,
		Timestamp:     ts,
		PaymentMethod: payment.MethodCreditCard,
		Status:        status,
		Issuer:        "issuer-a",
		Region:        "us-east",
		MerchantID:    "merchant-1",
		LatencyMs:     latency,
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	o := New(time.Minute)
	err := o.Ingest(payment.Transaction{ID: "t1", Status: "bogus"})
	require.ErrorIs(t, err, payment.ErrInvalid)
	require.Equal(t, int64(0), o.TransactionVolume())
}

func TestSuccessRateDefaultsToOneWhenEmpty(t *testing.T) {
	o := New(time.Minute)
	require.Equal(t, 1.0, o.SuccessRate())
}

func TestIngestUpdatesCounters(t *testing.T) {
	o := New(time.Minute)
	now := time.Now()
	require.NoError(t, o.Ingest(txn("t1", now, payment.StatusSuccess, 120)))
	require.NoError(t, o.Ingest(txn("t2", now, payment.StatusFailed, 400)))

	require.Equal(t, int64(2), o.TransactionVolume())
	require.InDelta(t, 0.5, o.SuccessRate(), 0.0001)

	issuer := o.IssuerHealth("issuer-a")
	require.Equal(t, int64(2), issuer.Total)
	require.InDelta(t, 0.5, issuer.SuccessRate, 0.0001)
}

func TestWindowEvictsStaleEntries(t *testing.T) {
	o := New(10 * time.Minute)
	fixedNow := time.Now()
	o.now = func() time.Time { return fixedNow }

	require.NoError(t, o.Ingest(txn("old", fixedNow.Add(-20*time.Minute), payment.StatusSuccess, 100)))
	require.Equal(t, int64(0), o.TransactionVolume(), "a window-sensitive read evicts the stale entry")

	require.NoError(t, o.Ingest(txn("new", fixedNow, payment.StatusSuccess, 100)))
	require.Equal(t, int64(1), o.TransactionVolume(), "only the fresh entry remains in the window")
}

func TestTopErrorsOrdering(t *testing.T) {
	o := New(time.Minute)
	now := time.Now()
	for i := 0; i < 3; i++ {
		tx := txn("e"+string(rune('a'+i)), now, payment.StatusFailed, 100)
		tx.ID = tx.ID + string(rune('0'+i))
		tx.ErrorCode = "timeout"
		require.NoError(t, o.Ingest(tx))
	}
	tx := txn("f1", now, payment.StatusFailed, 100)
	tx.ErrorCode = "insufficient_funds"
	require.NoError(t, o.Ingest(tx))

	top := o.TopErrors(2)
	require.Len(t, top, 2)
	require.Equal(t, "timeout", top[0].Code)
	require.Equal(t, int64(3), top[0].Count)
}

func TestRetryEfficiency(t *testing.T) {
	o := New(time.Minute)
	now := time.Now()

	original := txn("orig1", now, payment.StatusFailed, 200)
	require.NoError(t, o.Ingest(original))

	retry := txn("retry1", now, payment.StatusSuccess, 150)
	retry.IsRetry = true
	retry.OriginalTransactionID = "orig1"
	require.NoError(t, o.Ingest(retry))

	require.InDelta(t, 1.0, o.RetryEfficiency(), 0.0001)
}

func TestDetectBasicAnomaliesOverallSuccess(t *testing.T) {
	o := New(time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		status := payment.StatusSuccess
		if i < 5 {
			status = payment.StatusFailed
		}
		tx := txn("v"+string(rune('a'+i)), now, status, 100)
		require.NoError(t, o.Ingest(tx))
	}
	anomalies := o.DetectBasicAnomalies()
	require.NotEmpty(t, anomalies)
	require.Equal(t, "low_overall_success", anomalies[0].Type)
}
