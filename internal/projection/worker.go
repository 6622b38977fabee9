package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Output mirrors the data projection workers need. The orchestrator bridges
// between auction.Output and this.
type Output struct {
	Sequence  int64
	Type      string
	Payload   []byte // JSON-encoded notification payload
	Timestamp time.Time
}

// Worker updates projection tables from processed notifications. The
// projection channel is non-blocking with drop: if projections fall behind,
// they are rebuilt from the notification log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the notification log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

// payloadFields is the superset of notification payload fields projections
// care about. Absent fields unmarshal to zero values.
type payloadFields struct {
	Bidder   string `json:"bidder"`
	User     string `json:"user"`
	Winner   string `json:"winner"`
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amount"`
	NewTotal int64  `json:"new_total"`
	Net      int64  `json:"net"`
	Original int64  `json:"original"`
	Deadline string `json:"deadline"`
}

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	var p payloadFields
	if err := json.Unmarshal(output.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch output.Type {
	case "BidAccepted":
		if err := pw.upsertStanding(ctx, tx, p.Bidder, p.NewTotal, output); err != nil {
			return fmt.Errorf("standing upsert: %w", err)
		}
		if err := pw.updateStatus(ctx, tx, output.Sequence,
			`UPDATE projections.auction_status
			 SET highest_bidder = $2, highest_bid = $3, deadline = $4, last_sequence = $1, updated_at = NOW()
			 WHERE id = TRUE`,
			p.Bidder, p.NewTotal, p.Deadline); err != nil {
			return fmt.Errorf("status update: %w", err)
		}

	case "AuctionEnded":
		if err := pw.updateStatus(ctx, tx, output.Sequence,
			`UPDATE projections.auction_status
			 SET state = 'closed', winner = $2, winning_amount = $3, last_sequence = $1, updated_at = NOW()
			 WHERE id = TRUE`,
			p.Winner, p.Amount); err != nil {
			return fmt.Errorf("status update: %w", err)
		}

	case "FundsWithdrawn":
		if err := pw.zeroStanding(ctx, tx, p.User, output.Sequence); err != nil {
			return fmt.Errorf("standing settle: %w", err)
		}

	case "NonWinnerRefunded":
		if err := pw.zeroStanding(ctx, tx, p.Bidder, output.Sequence); err != nil {
			return fmt.Errorf("standing settle: %w", err)
		}

	case "PartialRefundProcessed":
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.standings
			SET total = total - $2, last_sequence = $3
			WHERE bidder = $1
		`, p.Bidder, p.Original, output.Sequence); err != nil {
			return fmt.Errorf("standing reduce: %w", err)
		}

	case "AuctionPaused":
		if err := pw.updateStatus(ctx, tx, output.Sequence,
			`UPDATE projections.auction_status
			 SET state = 'paused', last_sequence = $1, updated_at = NOW()
			 WHERE id = TRUE`); err != nil {
			return fmt.Errorf("status update: %w", err)
		}

	case "AuctionResumed":
		if err := pw.updateStatus(ctx, tx, output.Sequence,
			`UPDATE projections.auction_status
			 SET state = 'open', last_sequence = $1, updated_at = NOW()
			 WHERE id = TRUE`); err != nil {
			return fmt.Errorf("status update: %w", err)
		}

	case "EmergencyWithdrawal":
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.standings SET total = 0, last_sequence = $1
		`, output.Sequence); err != nil {
			return fmt.Errorf("standing sweep: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) upsertStanding(ctx context.Context, tx *sql.Tx, bidder string, total int64, output Output) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.standings (bidder, total, bid_count, last_bid_at, last_sequence)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (bidder)
		DO UPDATE SET total = $2,
		              bid_count = projections.standings.bid_count + 1,
		              last_bid_at = $3,
		              last_sequence = $4
	`, bidder, total, output.Timestamp, output.Sequence)
	return err
}

func (pw *Worker) zeroStanding(ctx context.Context, tx *sql.Tx, bidder string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.standings
		SET total = 0, settled = TRUE, last_sequence = $2
		WHERE bidder = $1
	`, bidder, seq)
	return err
}

func (pw *Worker) updateStatus(ctx context.Context, tx *sql.Tx, seq int64, query string, args ...interface{}) error {
	allArgs := append([]interface{}{seq}, args...)
	_, err := tx.ExecContext(ctx, query, allArgs...)
	return err
}

// RebuildProjections rebuilds the standings table from the bid log. Settled
// flags and the status row are then re-derived by replaying notifications,
// so a rebuild is followed by normal worker catch-up from the watermark.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.standings`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.standings (bidder, total, bid_count, last_bid_at, last_sequence)
		SELECT
			bidder,
			MAX(new_total) AS total,
			COUNT(*) AS bid_count,
			MAX(timestamp) AS last_bid_at,
			MAX(sequence) AS last_sequence
		FROM auction_log.bids
		GROUP BY bidder
	`)
	if err != nil {
		return fmt.Errorf("rebuild standings: %w", err)
	}

	return nil
}
