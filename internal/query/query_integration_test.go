package query_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"AuctionLedger/internal/persistence"
	"AuctionLedger/internal/query"
	"AuctionLedger/internal/testutil"

	"github.com/google/uuid"
)

// chainHash produces a deterministic per-sequence hash for test fixtures.
func chainHash(seq int64) []byte {
	h := sha256.Sum256([]byte(fmt.Sprintf("test-chain-%d", seq)))
	return h[:]
}

func notifRow(seq int64, typ, payload string) persistence.NotificationRow {
	prev := make([]byte, 32)
	if seq > 0 {
		prev = chainHash(seq - 1)
	}
	return persistence.NotificationRow{
		Sequence:       seq,
		Type:           typ,
		IdempotencyKey: fmt.Sprintf("%s:%d", typ, seq),
		CommandID:      fmt.Sprintf("cmd-%d", seq),
		Payload:        []byte(payload),
		StateHash:      chainHash(seq),
		PrevHash:       prev,
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
	}
}

func TestVerifyIntegrity_HealthyLog(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := uuid.New()
	b := uuid.New()

	// A full settled auction: 100 + 106 in, 110 + 104 out, 4 commission.
	rows := []persistence.NotificationRow{
		notifRow(0, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":100,"new_total":100}`, a)),
		notifRow(1, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":106,"new_total":106}`, b)),
		notifRow(2, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":12,"new_total":112}`, a)),
		notifRow(3, "AuctionEnded", fmt.Sprintf(`{"winner":%q,"amount":112}`, a)),
		notifRow(4, "FundsWithdrawn", fmt.Sprintf(`{"user":%q,"net":110,"commission":2}`, a)),
		notifRow(5, "NonWinnerRefunded", fmt.Sprintf(`{"bidder":%q,"original":106,"net":104,"commission":2}`, b)),
	}

	writer := persistence.NewNotificationLogWriter(db, 50, 10*time.Millisecond)
	if err := writer.WriteNotificationBatch(ctx, db, rows); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	report, err := query.NewQueryService(db).VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("healthy log reported unhealthy: %+v", report)
	}
	if len(report.HashChainBreaks) != 0 {
		t.Errorf("chain breaks: got %v, want none", report.HashChainBreaks)
	}
	// 218 received - 214 paid out - 4 commission = 0.
	if report.Imbalance != 0 {
		t.Errorf("imbalance: got %d, want 0", report.Imbalance)
	}
}

func TestVerifyIntegrity_DetectsChainBreak(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := uuid.New()
	rows := []persistence.NotificationRow{
		notifRow(0, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":100,"new_total":100}`, a)),
		notifRow(1, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":200,"new_total":300}`, a)),
	}
	// Corrupt the link at sequence 1.
	rows[1].PrevHash = chainHash(99)

	writer := persistence.NewNotificationLogWriter(db, 50, 10*time.Millisecond)
	if err := writer.WriteNotificationBatch(ctx, db, rows); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	report, err := query.NewQueryService(db).VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if report.IsHealthy {
		t.Error("broken chain reported healthy")
	}
	if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 1 {
		t.Errorf("chain breaks: got %v, want [1]", report.HashChainBreaks)
	}
}

func TestGetNotificationsAndBidHistory(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := uuid.New()
	b := uuid.New()
	writer := persistence.NewNotificationLogWriter(db, 50, 10*time.Millisecond)

	notifs := []persistence.NotificationRow{
		notifRow(0, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":100,"new_total":100}`, a)),
		notifRow(1, "BidAccepted", fmt.Sprintf(`{"bidder":%q,"amount":106,"new_total":106}`, b)),
	}
	if err := writer.WriteNotificationBatch(ctx, db, notifs); err != nil {
		t.Fatalf("seed notifications: %v", err)
	}

	bids := []persistence.BidRow{
		{EntryID: uuid.New().String(), Bidder: a.String(), Amount: 100, NewTotal: 100, Sequence: 0, Timestamp: time.Now().UTC()},
		{EntryID: uuid.New().String(), Bidder: b.String(), Amount: 106, NewTotal: 106, Sequence: 1, Timestamp: time.Now().UTC()},
	}
	if err := writer.WriteBidBatch(ctx, db, bids); err != nil {
		t.Fatalf("seed bids: %v", err)
	}

	qs := query.NewQueryService(db)

	got, err := qs.GetNotifications(ctx, 10, nil)
	if err != nil {
		t.Fatalf("GetNotifications: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("notifications: got %d, want 2", len(got))
	}

	bidderA := a.String()
	history, err := qs.GetBidHistory(ctx, &bidderA, 10, nil)
	if err != nil {
		t.Fatalf("GetBidHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history for a: got %d entries, want 1", len(history))
	}
	if history[0].Amount != 100 {
		t.Errorf("history amount: got %d, want 100", history[0].Amount)
	}

	all, err := qs.GetBidHistory(ctx, nil, 10, nil)
	if err != nil {
		t.Fatalf("GetBidHistory all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full history: got %d entries, want 2", len(all))
	}
}
