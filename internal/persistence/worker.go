package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"AuctionLedger/internal/observability"
)

// Output mirrors the engine's output, pre-flattened into rows, to avoid an
// import cycle. The orchestrator (cmd/main.go) bridges between
// auction.Output and this.
type Output struct {
	NotificationRow NotificationRow
	BidRow          *BidRow
	CommandRow      *CommandRow
}

// Worker drains the persist channel and batch-writes to Postgres. The
// persist channel uses BLOCKING sends from the engine, so if this worker
// falls behind, the engine stalls — guaranteeing no notification is lost.
type Worker struct {
	writer       *NotificationLogWriter
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewNotificationLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs and
// flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *Worker) Run(ctx context.Context) error {
	notifBatch := make([]NotificationRow, 0, pw.batchSize)
	bidBatch := make([]BidRow, 0, pw.batchSize)
	cmdBatch := make([]CommandRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flushAll := func(flushCtx context.Context) {
		if len(notifBatch) == 0 && len(bidBatch) == 0 && len(cmdBatch) == 0 {
			return
		}
		if err := pw.flushWithRetry(flushCtx, notifBatch, bidBatch, cmdBatch); err != nil {
			log.Printf("ERROR: batch flush failed after retries: %v", err)
		}
		notifBatch = notifBatch[:0]
		bidBatch = bidBatch[:0]
		cmdBatch = cmdBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: drain what was already handed off, then
			// flush with a background context.
			for {
				select {
				case output, ok := <-pw.inputChan:
					if !ok {
						flushAll(context.Background())
						return ctx.Err()
					}
					notifBatch = append(notifBatch, output.NotificationRow)
					if output.BidRow != nil {
						bidBatch = append(bidBatch, *output.BidRow)
					}
					if output.CommandRow != nil {
						cmdBatch = append(cmdBatch, *output.CommandRow)
					}
				default:
					flushAll(context.Background())
					return ctx.Err()
				}
			}

		case output, ok := <-pw.inputChan:
			if !ok {
				flushAll(context.Background())
				return nil
			}

			notifBatch = append(notifBatch, output.NotificationRow)
			if output.BidRow != nil {
				bidBatch = append(bidBatch, *output.BidRow)
			}
			if output.CommandRow != nil {
				cmdBatch = append(cmdBatch, *output.CommandRow)
			}

			if len(notifBatch) >= pw.batchSize {
				flushAll(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flushAll(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops outputs — it retries until the write succeeds or the context
// is cancelled, and then makes one final attempt before giving up.
func (pw *Worker) flushWithRetry(ctx context.Context, notifs []NotificationRow, bids []BidRow, cmds []CommandRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, notifications=%d)",
				attempt, backoff, len(notifs))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), notifs, bids, cmds)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, notifs, bids, cmds)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (pw *Worker) flush(ctx context.Context, notifs []NotificationRow, bids []BidRow, cmds []CommandRow) error {
	start := time.Now()

	// All three tables commit atomically
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteNotificationBatch(ctx, tx, notifs); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_notifications").Inc()
		}
		return err
	}

	if err := pw.writer.WriteBidBatch(ctx, tx, bids); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_bids").Inc()
		}
		return err
	}

	if err := pw.writer.WriteCommandBatch(ctx, tx, cmds); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_commands").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(notifs)))
		pw.metrics.PersistRowsWritten.Add(float64(len(notifs) + len(bids) + len(cmds)))
		if len(notifs) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(notifs[len(notifs)-1].Sequence))
		}
	}

	return nil
}

// GetWriter returns the underlying writer.
func (pw *Worker) GetWriter() *NotificationLogWriter {
	return pw.writer
}
