package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/controlloop"
	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

func TestSinkPublishPersistsOutcomesAndDenials(t *testing.T) {
	store := NewMemoryStore(0)
	w := NewWriter(store, store, nil)
	sink := NewSink(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	now := time.Now()
	sink.Publish(controlloop.CycleResult{
		Timestamp: now,
		ActionsTaken: []*decisionmaker.Action{
			{
				ID:         "a1",
				Type:       payment.ActionAdjustRetry,
				Target:     "global_retry_strategy",
				Status:     decisionmaker.StatusExecuted,
				Confidence: 0.8,
				CreatedAt:  now,
			},
		},
		Denials: []controlloop.DenialReport{
			{PatternType: payment.PatternRetryStorm, Reason: "confidence below minimum"},
		},
	})

	require.Eventually(t, func() bool {
		out, _ := store.RecentOutcomes(ctx, 10)
		return len(out) == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		d, _ := store.RecentDenials(ctx, 10)
		return len(d) == 1
	}, time.Second, time.Millisecond)

	out, _ := store.RecentOutcomes(ctx, 10)
	require.Equal(t, "a1", out[0].ActionID)

	denials, _ := store.RecentDenials(ctx, 10)
	require.Equal(t, "confidence below minimum", denials[0].Reason)
}
