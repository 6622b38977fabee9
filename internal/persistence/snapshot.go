package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading engine snapshots for
// recovery. A snapshot carries the full auction state: lifecycle, deadline,
// balances, the bid log, the leader, the conservation counters, the hash
// chain tip, and recent command keys for LRU warming.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized engine state at a point in time.
type SnapshotData struct {
	Sequence       int64            `json:"sequence"`
	StateHash      []byte           `json:"state_hash"`
	PrevHash       []byte           `json:"prev_hash"`
	State          int32            `json:"state"`
	Deadline       time.Time        `json:"deadline"`
	Balances       map[string]int64 `json:"balances"` // bidder UUID -> balance
	Bidders        []string         `json:"bidders"`  // registration order
	Entries        []BidRow         `json:"entries"`
	LeaderBidder   string           `json:"leader_bidder,omitempty"`
	LeaderAmount   int64            `json:"leader_amount,omitempty"`
	Received       int64            `json:"received"`
	TransferredOut int64            `json:"transferred_out"`
	Commission     int64            `json:"commission"`
	EmergencySwept bool             `json:"emergency_swept"`
	CommandKeys    []string         `json:"command_keys"` // Recent keys for LRU warming
	CreatedAt      time.Time        `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken on a
// timer and at graceful shutdown.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO auction_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns nil
// on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM auction_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE auction_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadNotificationsFrom loads notifications from a given sequence, used by
// integrity verification and downstream rebuilds.
func (sm *SnapshotManager) LoadNotificationsFrom(ctx context.Context, fromSequence int64, limit int) ([]NotificationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, type, idempotency_key, command_id, payload,
		       state_hash, prev_hash, timestamp
		FROM auction_log.notifications
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []NotificationRow
	for rows.Next() {
		var n NotificationRow
		if err := rows.Scan(
			&n.Sequence, &n.Type, &n.IdempotencyKey, &n.CommandID,
			&n.Payload, &n.StateHash, &n.PrevHash, &n.Timestamp,
		); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}

	return notifs, rows.Err()
}

// GetLatestSequence returns the highest sequence in the notification log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM auction_log.notifications
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty notification log
	}
	return seq.Int64, nil
}
