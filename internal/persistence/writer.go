package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationLogWriter writes notifications and bid entries to Postgres
// using batch inserts. Multi-row INSERT is used as a portable alternative to
// COPY; switch to pgx CopyFrom if throughput ever demands it.
type NotificationLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// NotificationRow represents a row in auction_log.notifications
type NotificationRow struct {
	Sequence       int64
	Type           string
	IdempotencyKey string
	CommandID      string
	Payload        []byte // JSON-encoded notification payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// BidRow represents a row in auction_log.bids
type BidRow struct {
	EntryID   string
	Bidder    string
	Amount    int64
	NewTotal  int64
	Sequence  int64
	Timestamp time.Time
}

// CommandRow records an applied command ID for tier-2 dedup.
type CommandRow struct {
	CommandID   string
	CommandType string
	Sequence    int64
	Timestamp   time.Time
}

func NewNotificationLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *NotificationLogWriter {
	return &NotificationLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer lets batch writes run either directly on the pool or inside a
// worker-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteNotificationBatch writes a batch of notifications using multi-row INSERT.
func (w *NotificationLogWriter) WriteNotificationBatch(ctx context.Context, q execer, rows []NotificationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO auction_log.notifications
		(sequence, type, idempotency_key, command_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.Type, r.IdempotencyKey, r.CommandID,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// WriteBidBatch writes a batch of accepted bids to auction_log.bids.
func (w *NotificationLogWriter) WriteBidBatch(ctx context.Context, q execer, rows []BidRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO auction_log.bids
		(entry_id, bidder, amount, new_total, sequence, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)

	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			r.EntryID, r.Bidder, r.Amount, r.NewTotal, r.Sequence, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// WriteCommandBatch records applied command IDs for the tier-2 dedup lookup.
func (w *NotificationLogWriter) WriteCommandBatch(ctx context.Context, q execer, rows []CommandRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO auction_log.commands
		(command_id, command_type, sequence, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)

	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, r.CommandID, r.CommandType, r.Sequence, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (command_id) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload serializes a notification payload to JSON for storage.
func MarshalPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
