package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/remediation-agent/internal/retry"
)

const (
	writerChanSize   = 2048
	writerRetryMax   = 3
	writerRetryDelay = 100 * time.Millisecond
	writerWriteTimeout = 5 * time.Second
)

type writeMsg struct {
	outcome *OutcomeRecord
	denial  *DenialRecord
}

// Writer asynchronously persists outcomes and denials so a slow store
// (a loaded Postgres instance) never blocks a control-loop cycle. A full
// channel drops the write and counts it rather than applying backpressure
// (spec.md §5: a cycle must not be slowed by an optional collaborator).
type Writer struct {
	outcomes OutcomeStore
	denials  DenialStore
	logger   *slog.Logger
	ch       chan writeMsg
	stop     chan struct{}
	running  atomic.Bool
	dropped  atomic.Int64
}

// NewWriter creates a writer over the given stores. Either store may be
// nil to skip persisting that kind of record.
func NewWriter(outcomes OutcomeStore, denials DenialStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		outcomes: outcomes,
		denials:  denials,
		logger:   logger,
		ch:       make(chan writeMsg, writerChanSize),
		stop:     make(chan struct{}),
	}
}

// EnqueueOutcome submits an outcome for async persistence. Non-blocking.
func (w *Writer) EnqueueOutcome(rec OutcomeRecord) {
	select {
	case w.ch <- writeMsg{outcome: &rec}:
	default:
		w.dropped.Add(1)
	}
}

// EnqueueDenial submits a denial for async persistence. Non-blocking.
func (w *Writer) EnqueueDenial(rec DenialRecord) {
	select {
	case w.ch <- writeMsg{denial: &rec}:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of records dropped due to a full channel.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Running reports whether the drain loop is active.
func (w *Writer) Running() bool { return w.running.Load() }

// Start drains the channel until ctx is cancelled or Stop is called. Call
// in a goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case msg := <-w.ch:
			w.write(msg)
		}
	}
}

// Stop signals the drain loop to exit.
func (w *Writer) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Writer) write(msg writeMsg) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in audit writer", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writerWriteTimeout)
	defer cancel()

	switch {
	case msg.outcome != nil && w.outcomes != nil:
		rec := *msg.outcome
		err := retry.Do(ctx, writerRetryMax, writerRetryDelay, func() error {
			return w.outcomes.RecordOutcome(ctx, rec)
		})
		if err != nil {
			w.logger.Error("audit: record outcome failed", "action_id", rec.ActionID, "error", err)
		}
	case msg.denial != nil && w.denials != nil:
		rec := *msg.denial
		err := retry.Do(ctx, writerRetryMax, writerRetryDelay, func() error {
			return w.denials.RecordDenial(ctx, rec)
		})
		if err != nil {
			w.logger.Error("audit: record denial failed", "pattern_type", rec.PatternType, "error", err)
		}
	}
}
