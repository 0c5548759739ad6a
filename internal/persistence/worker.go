package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
)

// Worker drains the persist channel and batch-writes op rows to
// Postgres. The processor sends on this channel BLOCKING: if the worker
// falls behind, the processor stalls rather than lose an operation.
type Worker struct {
	db           *sql.DB
	writer       *OpLogWriter
	snapshots    *SnapshotManager
	inputChan    <-chan core.OpRecord
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.OpRecord,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewOpLogWriter(db),
		snapshots:    NewSnapshotManager(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          observability.NewLogger("persistence"),
		metrics:      metrics,
	}
}

// Run batches incoming records and flushes when the batch is full or
// the flush timeout expires. Blocks until ctx ends or the channel
// closes; either way the final partial batch is flushed.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]core.OpRecord, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
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

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds, falling back to a
// final background-context flush when ctx is cancelled mid-retry.
func (w *Worker) flushWithRetry(ctx context.Context, batch []core.OpRecord) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("ops", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempt", attempt).Msg("persistence flush recovered")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []core.OpRecord) error {
	rows := make([]OpRow, 0, len(batch))
	for _, rec := range batch {
		row, err := RowFromRecord(rec)
		if err != nil {
			return fmt.Errorf("flatten record: %w", err)
		}
		rows = append(rows, row)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOpBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_ops").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
		w.metrics.PersistOpsWritten.Add(float64(len(rows)))
	}

	// Snapshots ride along on the op stream; save them after the ops
	// they describe are durable.
	for _, rec := range batch {
		if rec.Snapshot == nil {
			continue
		}
		snapStart := time.Now()
		if err := w.saveSnapshot(ctx, rec); err != nil {
			// Non-fatal: the op log alone is enough to recover.
			w.log.Error().Int64("seq", rec.Envelope.Sequence).Err(err).Msg("snapshot save failed")
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("snapshot").Inc()
			}
			continue
		}
		if w.metrics != nil {
			w.metrics.SnapshotTaken.Inc()
			w.metrics.SnapshotDuration.Observe(time.Since(snapStart).Seconds())
		}
	}

	return nil
}

func (w *Worker) saveSnapshot(ctx context.Context, rec core.OpRecord) error {
	return w.snapshots.SaveSnapshot(ctx, &SnapshotData{
		Sequence:  rec.Envelope.Sequence,
		StateHash: rec.Envelope.StateHash[:],
		State:     rec.Snapshot,
		CreatedAt: rec.Envelope.Timestamp,
	})
}
