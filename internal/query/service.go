package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// QueryService provides read-only access to the projection tables and the
// durable logs. All responses include as_of_sequence for freshness
// semantics: the projection watermark at the time of the query.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetStatus returns the projected auction status row.
func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var s StatusResponse
	s.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT state, highest_bidder, highest_bid, deadline, winner, winning_amount
		FROM projections.auction_status
		WHERE id = TRUE
	`).Scan(&s.State, &s.HighestBidder, &s.HighestBid, &s.Deadline, &s.Winner, &s.WinningAmount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("auction status row missing — run migrations")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStandings returns projected standings ordered by total descending.
func (qs *QueryService) GetStandings(ctx context.Context, limit int) ([]StandingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT bidder, total, bid_count, last_bid_at, settled
		FROM projections.standings
		ORDER BY total DESC, bidder
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []StandingResponse
	for rows.Next() {
		var s StandingResponse
		s.AsOfSequence = asOfSeq
		if err := rows.Scan(&s.Bidder, &s.Total, &s.BidCount, &s.LastBidAt, &s.Settled); err != nil {
			return nil, err
		}
		standings = append(standings, s)
	}

	return standings, rows.Err()
}

// GetBidHistory returns accepted bids from the durable log with
// cursor-based pagination, optionally filtered to one bidder.
func (qs *QueryService) GetBidHistory(
	ctx context.Context,
	bidder *string,
	limit int,
	afterSequence *int64,
) ([]BidHistoryEntry, error) {
	query := `
		SELECT entry_id, bidder, amount, new_total, sequence, timestamp
		FROM auction_log.bids
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if bidder != nil {
		query += fmt.Sprintf(" AND bidder = $%d", argIdx)
		args = append(args, *bidder)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []BidHistoryEntry
	for rows.Next() {
		var h BidHistoryEntry
		if err := rows.Scan(
			&h.EntryID, &h.Bidder, &h.Amount, &h.NewTotal, &h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetNotifications returns the notification log with cursor-based pagination.
func (qs *QueryService) GetNotifications(
	ctx context.Context,
	limit int,
	afterSequence *int64,
) ([]NotificationEntry, error) {
	query := `
		SELECT sequence, type, idempotency_key, command_id, payload, timestamp
		FROM auction_log.notifications
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []NotificationEntry
	for rows.Next() {
		var n NotificationEntry
		if err := rows.Scan(
			&n.Sequence, &n.Type, &n.IdempotencyKey, &n.CommandID, &n.Payload, &n.Timestamp,
		); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}

	return notifs, rows.Err()
}

// integrityPayload is the subset of payload fields conservation needs.
type integrityPayload struct {
	Amount     int64 `json:"amount"`
	Net        int64 `json:"net"`
	Commission int64 `json:"commission"`
}

// VerifyIntegrity walks the full notification log in sequence order,
// checking the state-hash chain and recomputing conservation: every unit
// that entered via an accepted bid must still be held or be accounted for
// by a payout, refund, sweep, or withheld commission.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, type, payload, state_hash, prev_hash
		FROM auction_log.notifications
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &IntegrityReport{IsHealthy: true}

	var lastHash []byte
	first := true
	var received, paidOut, commission int64

	for rows.Next() {
		var (
			seq                 int64
			typ                 string
			payload             []byte
			stateHash, prevHash []byte
		)
		if err := rows.Scan(&seq, &typ, &payload, &stateHash, &prevHash); err != nil {
			return nil, err
		}

		if !first && !bytes.Equal(prevHash, lastHash) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		lastHash = stateHash
		first = false

		var p integrityPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode payload at seq %d: %w", seq, err)
		}

		switch typ {
		case "BidAccepted":
			received += p.Amount
		case "FundsWithdrawn", "NonWinnerRefunded", "PartialRefundProcessed":
			paidOut += p.Net
			commission += p.Commission
		case "EmergencyWithdrawal":
			paidOut += p.Amount
			// The sweep drains the commission pool too
			commission = 0
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.Imbalance = received - paidOut - commission
	if len(report.HashChainBreaks) > 0 || report.Imbalance < 0 {
		report.IsHealthy = false
	}

	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
