package persistence

import (
	"context"
	"database/sql"
	"time"

	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes outcome records to
// Postgres. The fan-out sends to this channel blocking, so if the worker
// falls behind the core stalls rather than losing records. Flushes happen
// when the batch fills or the flush timeout fires, whichever is first.
type Worker struct {
	writer       *OutcomeWriter
	log          zerolog.Logger
	metrics      *observability.Metrics
	inputChan    <-chan event.Record
	batchSize    int
	flushTimeout time.Duration
}

func NewWorker(db *sql.DB, log zerolog.Logger, metrics *observability.Metrics, inputChan <-chan event.Record, batchSize int, flushTimeout time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &Worker{
		writer:       NewOutcomeWriter(db),
		log:          log,
		metrics:      metrics,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// Run batches and flushes until the context is cancelled; a final flush
// covers whatever is buffered at shutdown.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]event.Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.writer.WriteBatch(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.writer.WriteBatch(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. Records are never dropped; shutdown gets one
// last attempt on a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []event.Record) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("records", len(batch)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.writer.WriteBatch(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("shutdown flush failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.writer.WriteBatch(ctx, batch)
		if err == nil {
			if w.metrics != nil {
				w.metrics.PersistRows.Add(float64(len(batch)))
			}
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
	}
}
