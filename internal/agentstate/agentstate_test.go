package agentstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/payment"
)

func TestCircuitBreakerRoundTrip(t *testing.T) {
	a := New()
	a.AddCircuitBreaker("HDFC")
	require.True(t, a.HasCircuitBreaker("HDFC"))

	a.RemoveCircuitBreaker("HDFC")
	require.False(t, a.HasCircuitBreaker("HDFC"), "rollback must return the breaker set to its pre-execution value")
}

func TestMergeRetryStrategyOnlyOverwritesProvidedFields(t *testing.T) {
	a := New()
	a.MergeRetryStrategy("global_retry_strategy", RetryStrategy{MaxRetries: 2, BackoffMultiplier: 2.0})
	snap := a.Snapshot()
	require.Equal(t, 2, snap.RetryStrategies["global_retry_strategy"].MaxRetries)
	require.Equal(t, 2.0, snap.RetryStrategies["global_retry_strategy"].BackoffMultiplier)

	a.MergeRetryStrategy("global_retry_strategy", RetryStrategy{TimeoutMs: 5000})
	snap = a.Snapshot()
	require.Equal(t, 2, snap.RetryStrategies["global_retry_strategy"].MaxRetries, "unset fields in the overlay must not clobber existing values")
	require.Equal(t, 5000, snap.RetryStrategies["global_retry_strategy"].TimeoutMs)
}

func TestCanTakeActionHourlyCap(t *testing.T) {
	a := New()
	limits := DefaultLimits()
	limits.ActionsPerHourCap = 1
	a.RecordActionExecuted()

	result := a.CanTakeAction(payment.RiskLow, 0.9, 0.9, 0, limits)
	require.False(t, result.Allowed)
	require.Contains(t, result.Reason, "Hourly action limit")
}

func TestCanTakeActionHighRiskRollbackGate(t *testing.T) {
	a := New()
	for i := 0; i < 3; i++ {
		a.RecordRollback()
	}
	limits := DefaultLimits()

	result := a.CanTakeAction(payment.RiskHigh, 0.9, 0.9, 0, limits)
	require.False(t, result.Allowed)
	require.Equal(t, "High-risk action blocked due to recent rollbacks", result.Reason)
}

func TestCanTakeActionMinConfidence(t *testing.T) {
	a := New()
	result := a.CanTakeAction(payment.RiskLow, 0.4, 0.9, 0, DefaultLimits())
	require.False(t, result.Allowed)
}

func TestCanTakeActionMinScore(t *testing.T) {
	a := New()
	result := a.CanTakeAction(payment.RiskLow, 0.9, 0.3, 0, DefaultLimits())
	require.False(t, result.Allowed)
	require.Equal(t, "Action score below minimum threshold", result.Reason)
}

func TestEscalateAuthorizationByTrafficImpact(t *testing.T) {
	require.Equal(t, payment.AuthAutomatic, EscalateAuthorization(payment.ActionAdjustRetry, 0.01))
	require.Equal(t, payment.AuthSemiAutomatic, EscalateAuthorization(payment.ActionAdjustRetry, 0.06))
	require.Equal(t, payment.AuthManual, EscalateAuthorization(payment.ActionAdjustRetry, 0.25))
	require.Equal(t, payment.AuthManual, EscalateAuthorization(payment.ActionMethodSuppress, 0.01))
}
