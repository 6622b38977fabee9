package auction_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/event"

	"github.com/google/uuid"
)

var (
	owner   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	bidderA = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	bidderB = uuid.MustParse("770e8400-e29b-41d4-a716-446655440002")

	baseTime = time.Unix(1_700_000_000, 0)
)

// transferCall records one invocation of the Transferrer.
type transferCall struct {
	To     uuid.UUID
	Amount int64
	Reason auction.TransferReason
}

// fakeTransferrer records calls and can be told to fail for a recipient.
type fakeTransferrer struct {
	calls  []transferCall
	failOn map[uuid.UUID]error
}

func (f *fakeTransferrer) Transfer(to uuid.UUID, amount int64, reason auction.TransferReason) error {
	f.calls = append(f.calls, transferCall{To: to, Amount: amount, Reason: reason})
	if err := f.failOn[to]; err != nil {
		return err
	}
	return nil
}

// testEngine builds an engine with a buffered persist channel so emitted
// notifications can be inspected.
func testEngine(t *testing.T, deadline time.Time, ft *fakeTransferrer) (*auction.Engine, chan auction.Output) {
	t.Helper()
	persistChan := make(chan auction.Output, 256)
	e, err := auction.NewEngine(
		auction.Params{Owner: owner, Deadline: deadline},
		ft,
		0,
		persistChan,
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, persistChan
}

// drainOutputs collects everything emitted so far.
func drainOutputs(ch chan auction.Output) []auction.Output {
	var out []auction.Output
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: Construction
// ============================================================================

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	persistChan := make(chan auction.Output, 1)

	_, err := auction.NewEngine(auction.Params{Deadline: baseTime}, &fakeTransferrer{}, 0, persistChan, nil, nil)
	if err == nil {
		t.Error("expected error for zero owner")
	}

	_, err = auction.NewEngine(auction.Params{Owner: owner}, &fakeTransferrer{}, 0, persistChan, nil, nil)
	if err == nil {
		t.Error("expected error for zero deadline")
	}

	_, err = auction.NewEngine(auction.Params{Owner: owner, Deadline: baseTime}, nil, 0, persistChan, nil, nil)
	if err == nil {
		t.Error("expected error for nil transferrer")
	}
}

// ============================================================================
// Test: PlaceBid
// ============================================================================

func TestPlaceBid_FirstBidUnconditional(t *testing.T) {
	// Deadline inside the extension window: the first-ever bid still must
	// not extend it.
	deadline := baseTime.Add(5 * time.Minute)
	e, outputs := testEngine(t, deadline, &fakeTransferrer{})

	if err := e.PlaceBid(bidderA, 1, baseTime, "cmd-1"); err != nil {
		t.Fatalf("first bid rejected: %v", err)
	}

	lead, ok := e.HighestBid()
	if !ok || lead.Bidder != bidderA || lead.Amount != 1 {
		t.Errorf("leader: got %+v ok=%v, want bidderA at 1", lead, ok)
	}
	if !e.Deadline().Equal(deadline) {
		t.Errorf("first bid extended the deadline: %v", e.Deadline())
	}

	emitted := drainOutputs(outputs)
	if len(emitted) != 1 {
		t.Fatalf("emitted %d notifications, want 1", len(emitted))
	}
	bid, ok := emitted[0].Notification.(*event.BidAccepted)
	if !ok {
		t.Fatalf("expected *event.BidAccepted, got %T", emitted[0].Notification)
	}
	if bid.NewTotal != 1 || bid.Extended {
		t.Errorf("notification: got %+v", bid)
	}
}

func TestPlaceBid_RaiseBoundary(t *testing.T) {
	// Leader at 100: exactly 105 (= 100 + 5%) must fail, 106 must pass.
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})

	if err := e.PlaceBid(bidderA, 100, baseTime, "cmd-1"); err != nil {
		t.Fatalf("seed bid: %v", err)
	}

	if err := e.PlaceBid(bidderB, 105, baseTime, "cmd-2"); !errors.Is(err, auction.ErrBidTooLow) {
		t.Errorf("105 vs leader 100: got %v, want ErrBidTooLow", err)
	}
	if err := e.PlaceBid(bidderB, 106, baseTime, "cmd-3"); err != nil {
		t.Errorf("106 vs leader 100: got %v, want nil", err)
	}

	lead, _ := e.HighestBid()
	if lead.Bidder != bidderB || lead.Amount != 106 {
		t.Errorf("leader: got %+v, want bidderB at 106", lead)
	}
}

func TestPlaceBid_CumulativeTotals(t *testing.T) {
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})

	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)

	// A tops up: 100 + 12 = 112 > 106 + floor(106*5/100) = 111.
	if err := e.PlaceBid(bidderA, 12, baseTime, "cmd-3"); err != nil {
		t.Fatalf("top-up rejected: %v", err)
	}

	lead, _ := e.HighestBid()
	if lead.Bidder != bidderA || lead.Amount != 112 {
		t.Errorf("leader: got %+v, want bidderA at 112", lead)
	}
	if got := e.TotalBidOf(bidderA); got != 112 {
		t.Errorf("TotalBidOf(A): got %d, want 112", got)
	}
	if got := len(e.BidsOf(bidderA)); got != 2 {
		t.Errorf("BidsOf(A): got %d entries, want 2", got)
	}
}

func TestPlaceBid_Rejections(t *testing.T) {
	deadline := baseTime.Add(time.Hour)

	tests := []struct {
		name    string
		setup   func(t *testing.T, e *auction.Engine)
		amount  int64
		now     time.Time
		wantErr error
	}{
		{
			name:    "zero amount",
			amount:  0,
			now:     baseTime,
			wantErr: auction.ErrZeroBid,
		},
		{
			name:    "negative amount",
			amount:  -5,
			now:     baseTime,
			wantErr: auction.ErrZeroBid,
		},
		{
			name:    "at deadline",
			amount:  10,
			now:     deadline,
			wantErr: auction.ErrDeadlinePassed,
		},
		{
			name:    "after deadline",
			amount:  10,
			now:     deadline.Add(time.Second),
			wantErr: auction.ErrDeadlinePassed,
		},
		{
			name: "paused",
			setup: func(t *testing.T, e *auction.Engine) {
				if err := e.Pause(owner, baseTime, "pause"); err != nil {
					t.Fatalf("pause: %v", err)
				}
			},
			amount:  10,
			now:     baseTime,
			wantErr: auction.ErrAuctionPaused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := testEngine(t, deadline, &fakeTransferrer{})
			if tt.setup != nil {
				tt.setup(t, e)
			}
			err := e.PlaceBid(bidderA, tt.amount, tt.now, "cmd")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlaceBid_ClosedAuction(t *testing.T) {
	e := closedEngine(t, &fakeTransferrer{})
	if err := e.PlaceBid(bidderB, 1_000, baseTime.Add(2*time.Hour), "late"); !errors.Is(err, auction.ErrAuctionNotActive) {
		t.Errorf("got %v, want ErrAuctionNotActive", err)
	}
}

func TestPlaceBid_ExtensionWindow(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	e, _ := testEngine(t, deadline, &fakeTransferrer{})
	mustBid(t, e, bidderA, 100, baseTime)

	// Exactly EXTENSION_WINDOW remaining: extends, additively.
	atBoundary := deadline.Add(-auction.ExtensionWindow)
	if err := e.PlaceBid(bidderB, 106, atBoundary, "cmd-2"); err != nil {
		t.Fatalf("boundary bid: %v", err)
	}
	want := deadline.Add(auction.ExtensionWindow)
	if !e.Deadline().Equal(want) {
		t.Errorf("deadline after boundary bid: got %v, want %v", e.Deadline(), want)
	}

	// One second more than the window remaining: no extension.
	e2, _ := testEngine(t, deadline, &fakeTransferrer{})
	mustBid(t, e2, bidderA, 100, baseTime)
	outside := deadline.Add(-auction.ExtensionWindow - time.Second)
	if err := e2.PlaceBid(bidderB, 106, outside, "cmd-2"); err != nil {
		t.Fatalf("outside-window bid: %v", err)
	}
	if !e2.Deadline().Equal(deadline) {
		t.Errorf("deadline moved outside the window: got %v, want %v", e2.Deadline(), deadline)
	}
}

func TestPlaceBid_BidderCap(t *testing.T) {
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})

	// Fill all slots with distinct identities, each outbidding the last.
	var total int64
	first := uuid.Nil
	for i := 0; i < auction.MaxBidders; i++ {
		required := total + total*auction.MinRaisePercent/100 + 1
		b := uuid.New()
		if i == 0 {
			first = b
		}
		if err := e.PlaceBid(b, required, baseTime, fmt.Sprintf("cmd-%d", i)); err != nil {
			t.Fatalf("bidder %d rejected: %v", i, err)
		}
		total = required
	}
	if got := e.UniqueBidders(); got != auction.MaxBidders {
		t.Fatalf("unique bidders: got %d, want %d", got, auction.MaxBidders)
	}

	// The 101st distinct identity is refused regardless of amount.
	err := e.PlaceBid(uuid.New(), total*2, baseTime, "cmd-overflow")
	if !errors.Is(err, auction.ErrBidderLimit) {
		t.Errorf("101st bidder: got %v, want ErrBidderLimit", err)
	}

	// An existing participant re-bids past the cap without issue.
	required := total + total*auction.MinRaisePercent/100 + 1
	if err := e.PlaceBid(first, required, baseTime, "cmd-rebid"); err != nil {
		t.Errorf("existing bidder re-bid: got %v, want nil", err)
	}
	if got := e.UniqueBidders(); got != auction.MaxBidders {
		t.Errorf("unique bidders after re-bid: got %d, want %d", got, auction.MaxBidders)
	}
}

func TestPlaceBid_RegistrationSurvivesRejection(t *testing.T) {
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})
	mustBid(t, e, bidderA, 100, baseTime)

	// A first-timer whose bid fails the threshold is still registered.
	if err := e.PlaceBid(bidderB, 50, baseTime, "cmd-2"); !errors.Is(err, auction.ErrBidTooLow) {
		t.Fatalf("got %v, want ErrBidTooLow", err)
	}
	if got := e.UniqueBidders(); got != 2 {
		t.Errorf("unique bidders after rejected first bid: got %d, want 2", got)
	}
}

// ============================================================================
// Test: PartialRefund
// ============================================================================

func TestPartialRefund_Gates(t *testing.T) {
	deadline := baseTime.Add(time.Hour)

	t.Run("no bids", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		if err := e.PartialRefund(bidderA, baseTime, "cmd"); !errors.Is(err, auction.ErrNoExcessFunds) {
			t.Errorf("got %v, want ErrNoExcessFunds", err)
		}
	})

	t.Run("leader refused", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.PartialRefund(bidderA, baseTime, "cmd"); !errors.Is(err, auction.ErrLeaderRefund) {
			t.Errorf("got %v, want ErrLeaderRefund", err)
		}
	})

	t.Run("no excess", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		mustBid(t, e, bidderB, 106, baseTime)
		// A holds 100, required to challenge is 106 + 5 = 111.
		if err := e.PartialRefund(bidderA, baseTime, "cmd"); !errors.Is(err, auction.ErrNoExcessFunds) {
			t.Errorf("got %v, want ErrNoExcessFunds", err)
		}
	})

	t.Run("paused", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.Pause(owner, baseTime, "pause"); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if err := e.PartialRefund(bidderB, baseTime, "cmd"); !errors.Is(err, auction.ErrAuctionPaused) {
			t.Errorf("got %v, want ErrAuctionPaused", err)
		}
	})

	t.Run("after deadline", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.PartialRefund(bidderB, deadline, "cmd"); !errors.Is(err, auction.ErrDeadlinePassed) {
			t.Errorf("got %v, want ErrDeadlinePassed", err)
		}
	})
}

// ============================================================================
// Test: Pause / Unpause
// ============================================================================

func TestPauseUnpause(t *testing.T) {
	e, outputs := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})

	if err := e.Pause(bidderA, baseTime, "cmd"); !errors.Is(err, auction.ErrNotOwner) {
		t.Errorf("non-owner pause: got %v, want ErrNotOwner", err)
	}
	if err := e.Unpause(owner, baseTime, "cmd"); !errors.Is(err, auction.ErrNotPaused) {
		t.Errorf("unpause while open: got %v, want ErrNotPaused", err)
	}

	if err := e.Pause(owner, baseTime, "cmd"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if e.State() != auction.StatePaused {
		t.Errorf("state: got %v, want StatePaused", e.State())
	}
	if err := e.Pause(owner, baseTime, "cmd"); !errors.Is(err, auction.ErrAuctionPaused) {
		t.Errorf("double pause: got %v, want ErrAuctionPaused", err)
	}

	if err := e.Unpause(owner, baseTime, "cmd"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if e.State() != auction.StateOpen {
		t.Errorf("state: got %v, want StateOpen", e.State())
	}

	emitted := drainOutputs(outputs)
	if len(emitted) != 2 {
		t.Fatalf("emitted %d notifications, want 2", len(emitted))
	}
	if _, ok := emitted[0].Notification.(*event.AuctionPaused); !ok {
		t.Errorf("first notification: got %T, want *event.AuctionPaused", emitted[0].Notification)
	}
	if _, ok := emitted[1].Notification.(*event.AuctionResumed); !ok {
		t.Errorf("second notification: got %T, want *event.AuctionResumed", emitted[1].Notification)
	}
}

// ============================================================================
// Test: Close
// ============================================================================

func TestClose_Gates(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	after := deadline.Add(time.Second)

	t.Run("non-owner", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.Close(bidderA, after, "cmd"); !errors.Is(err, auction.ErrNotOwner) {
			t.Errorf("got %v, want ErrNotOwner", err)
		}
	})

	t.Run("before deadline", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.Close(owner, deadline.Add(-time.Second), "cmd"); !errors.Is(err, auction.ErrAuctionNotEnded) {
			t.Errorf("got %v, want ErrAuctionNotEnded", err)
		}
	})

	t.Run("no bids", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		if err := e.Close(owner, after, "cmd"); !errors.Is(err, auction.ErrNoBidsPlaced) {
			t.Errorf("got %v, want ErrNoBidsPlaced", err)
		}
	})

	t.Run("double close", func(t *testing.T) {
		e, _ := testEngine(t, deadline, &fakeTransferrer{})
		mustBid(t, e, bidderA, 100, baseTime)
		if err := e.Close(owner, after, "cmd-1"); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := e.Close(owner, after, "cmd-2"); !errors.Is(err, auction.ErrAlreadyClosed) {
			t.Errorf("got %v, want ErrAlreadyClosed", err)
		}
	})
}

// TestClose_ShortAuctionScenario runs the full lifecycle: a 700-second
// auction, a last-moment lead change extending the deadline to 1300s, and a
// settlement sweep paying the winner and refunding the loser net of 2%.
func TestClose_ShortAuctionScenario(t *testing.T) {
	deadline := baseTime.Add(700 * time.Second)
	ft := &fakeTransferrer{}
	e, outputs := testEngine(t, deadline, ft)

	mustBid(t, e, bidderA, 100, baseTime)                     // leader A at 100
	mustBid(t, e, bidderB, 106, baseTime.Add(time.Second))    // leader B at 106
	at695 := baseTime.Add(695 * time.Second)                  // 5s remaining
	if err := e.PlaceBid(bidderA, 12, at695, "cmd-3"); err != nil { // 112 > 111
		t.Fatalf("late top-up: %v", err)
	}

	extendedDeadline := deadline.Add(auction.ExtensionWindow)
	if !e.Deadline().Equal(extendedDeadline) {
		t.Fatalf("deadline after late bid: got %v, want %v", e.Deadline(), extendedDeadline)
	}

	closeAt := extendedDeadline.Add(time.Second)
	if err := e.Close(owner, closeAt, "cmd-close"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.State() != auction.StateClosed {
		t.Fatalf("state: got %v, want StateClosed", e.State())
	}

	// Transfers: A (winner) 112 - 2 = 110, B (refund) 106 - 2 = 104, in
	// registration order.
	if len(ft.calls) != 2 {
		t.Fatalf("transfer calls: got %d, want 2", len(ft.calls))
	}
	if ft.calls[0].To != bidderA || ft.calls[0].Amount != 110 || ft.calls[0].Reason != auction.ReasonWinnerPayout {
		t.Errorf("winner transfer: got %+v", ft.calls[0])
	}
	if ft.calls[1].To != bidderB || ft.calls[1].Amount != 104 || ft.calls[1].Reason != auction.ReasonRefund {
		t.Errorf("refund transfer: got %+v", ft.calls[1])
	}

	// Conservation: 218 in, 214 out, 4 held as commission.
	if got := e.Held(); got != 4 {
		t.Errorf("held after close: got %d, want 4", got)
	}
	if got := e.TotalBidOf(bidderA); got != 0 {
		t.Errorf("winner balance after sweep: got %d, want 0", got)
	}
	if got := e.TotalBidOf(bidderB); got != 0 {
		t.Errorf("loser balance after sweep: got %d, want 0", got)
	}

	// Notification order: three accepts, then AuctionEnded before the
	// per-participant settlement notifications, A before B.
	emitted := drainOutputs(outputs)
	var types []string
	for _, o := range emitted {
		types = append(types, o.Envelope.Type.String())
	}
	want := []string{"BidAccepted", "BidAccepted", "BidAccepted", "AuctionEnded", "FundsWithdrawn", "NonWinnerRefunded"}
	if len(types) != len(want) {
		t.Fatalf("notification sequence: got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("notification sequence: got %v, want %v", types, want)
		}
	}

	ended := emitted[3].Notification.(*event.AuctionEnded)
	if ended.Winner != bidderA || ended.Amount != 112 {
		t.Errorf("AuctionEnded: got %+v", ended)
	}
	paid := emitted[4].Notification.(*event.FundsWithdrawn)
	if paid.User != bidderA || paid.Net != 110 || paid.Commission != 2 {
		t.Errorf("FundsWithdrawn: got %+v", paid)
	}
	refunded := emitted[5].Notification.(*event.NonWinnerRefunded)
	if refunded.Bidder != bidderB || refunded.Original != 106 || refunded.Net != 104 || refunded.Commission != 2 {
		t.Errorf("NonWinnerRefunded: got %+v", refunded)
	}

	// Envelope sequences are contiguous and the hash chain links up.
	for i, o := range emitted {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("sequence[%d]: got %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != emitted[i-1].Envelope.StateHash {
			t.Errorf("hash chain broken at sequence %d", o.Envelope.Sequence)
		}
	}
}

func TestClose_TransferFailureStaysClosed(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	ft := &fakeTransferrer{failOn: map[uuid.UUID]error{
		bidderB: errors.New("recipient rejects value"),
	}}
	e, _ := testEngine(t, deadline, ft)

	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)
	mustBid(t, e, bidderA, 12, baseTime) // A leads at 112

	err := e.Close(owner, deadline.Add(time.Second), "cmd-close")
	if !errors.Is(err, auction.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	// The auction stays Closed: the sweep stopped but never reopens.
	if e.State() != auction.StateClosed {
		t.Errorf("state after failed sweep: got %v, want StateClosed", e.State())
	}
	// A was already paid before the failure.
	if got := e.TotalBidOf(bidderA); got != 0 {
		t.Errorf("winner balance: got %d, want 0", got)
	}
	// B's balance was restored and is recoverable by pull.
	if got := e.TotalBidOf(bidderB); got != 106 {
		t.Errorf("restored balance: got %d, want 106", got)
	}

	ft.failOn = nil
	if err := e.Withdraw(bidderB, deadline.Add(time.Minute), "cmd-withdraw"); err != nil {
		t.Fatalf("recovery withdraw: %v", err)
	}
	last := ft.calls[len(ft.calls)-1]
	if last.To != bidderB || last.Amount != 104 || last.Reason != auction.ReasonDepositRetrieve {
		t.Errorf("recovery transfer: got %+v", last)
	}
}

// ============================================================================
// Test: Withdraw
// ============================================================================

func TestWithdraw_RequiresClosedState(t *testing.T) {
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})
	mustBid(t, e, bidderA, 100, baseTime)

	if err := e.Withdraw(bidderA, baseTime, "cmd"); !errors.Is(err, auction.ErrAuctionNotEnded) {
		t.Errorf("got %v, want ErrAuctionNotEnded", err)
	}
}

func TestWithdraw_NoDoublePayout(t *testing.T) {
	// Seed a closed auction with an unsettled balance via a failed sweep.
	deadline := baseTime.Add(time.Hour)
	ft := &fakeTransferrer{failOn: map[uuid.UUID]error{
		bidderB: errors.New("unreachable"),
	}}
	e, _ := testEngine(t, deadline, ft)
	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)
	mustBid(t, e, bidderA, 12, baseTime)
	if err := e.Close(owner, deadline.Add(time.Second), "cmd-close"); !errors.Is(err, auction.ErrTransferFailed) {
		t.Fatalf("expected failed sweep, got %v", err)
	}

	ft.failOn = nil
	if err := e.Withdraw(bidderB, deadline.Add(time.Minute), "cmd-1"); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	if got := e.TotalBidOf(bidderB); got != 0 {
		t.Errorf("balance after withdraw: got %d, want 0", got)
	}
	if err := e.Withdraw(bidderB, deadline.Add(2*time.Minute), "cmd-2"); !errors.Is(err, auction.ErrNothingToWithdraw) {
		t.Errorf("second withdraw: got %v, want ErrNothingToWithdraw", err)
	}
}

func TestWithdraw_TransferFailureRollsBack(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	ft := &fakeTransferrer{failOn: map[uuid.UUID]error{
		bidderB: errors.New("unreachable"),
	}}
	e, _ := testEngine(t, deadline, ft)
	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)
	mustBid(t, e, bidderA, 12, baseTime)
	if err := e.Close(owner, deadline.Add(time.Second), "cmd-close"); !errors.Is(err, auction.ErrTransferFailed) {
		t.Fatalf("expected failed sweep, got %v", err)
	}

	// Still failing: withdraw rolls back fully.
	if err := e.Withdraw(bidderB, deadline.Add(time.Minute), "cmd-1"); !errors.Is(err, auction.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := e.TotalBidOf(bidderB); got != 106 {
		t.Errorf("balance after failed withdraw: got %d, want 106", got)
	}
}

// ============================================================================
// Test: EmergencyWithdraw
// ============================================================================

func TestEmergencyWithdraw(t *testing.T) {
	ft := &fakeTransferrer{}
	e := closedEngineWith(t, ft)

	// After a complete sweep only commission remains in the pool.
	heldBefore := e.Held()
	if heldBefore <= 0 {
		t.Fatalf("test setup: expected held commission, got %d", heldBefore)
	}

	now := baseTime.Add(2 * time.Hour)
	if err := e.EmergencyWithdraw(bidderA, now, "cmd"); !errors.Is(err, auction.ErrNotOwner) {
		t.Errorf("non-owner: got %v, want ErrNotOwner", err)
	}

	if err := e.EmergencyWithdraw(owner, now, "cmd-sweep"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	last := ft.calls[len(ft.calls)-1]
	if last.To != owner || last.Amount != heldBefore || last.Reason != auction.ReasonEmergencySweep {
		t.Errorf("sweep transfer: got %+v", last)
	}
	if got := e.Held(); got != 0 {
		t.Errorf("held after sweep: got %d, want 0", got)
	}

	if err := e.EmergencyWithdraw(owner, now, "cmd-again"); !errors.Is(err, auction.ErrNothingHeld) {
		t.Errorf("second sweep: got %v, want ErrNothingHeld", err)
	}
}

func TestEmergencyWithdraw_RequiresClosed(t *testing.T) {
	e, _ := testEngine(t, baseTime.Add(time.Hour), &fakeTransferrer{})
	mustBid(t, e, bidderA, 100, baseTime)
	if err := e.EmergencyWithdraw(owner, baseTime, "cmd"); !errors.Is(err, auction.ErrAuctionNotEnded) {
		t.Errorf("got %v, want ErrAuctionNotEnded", err)
	}
}

func TestEmergencyWithdraw_TransferFailureRestores(t *testing.T) {
	ft := &fakeTransferrer{}
	e := closedEngineWith(t, ft)
	heldBefore := e.Held()

	ft.failOn = map[uuid.UUID]error{owner: errors.New("gateway down")}
	now := baseTime.Add(2 * time.Hour)
	if err := e.EmergencyWithdraw(owner, now, "cmd"); !errors.Is(err, auction.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := e.Held(); got != heldBefore {
		t.Errorf("held after failed sweep: got %d, want %d", got, heldBefore)
	}

	ft.failOn = nil
	if err := e.EmergencyWithdraw(owner, now, "cmd-retry"); err != nil {
		t.Errorf("retry after restore: %v", err)
	}
}

// ============================================================================
// Test: Reentrancy
// ============================================================================

func TestReentrancy_CallbackCannotReenter(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	after := deadline.Add(time.Second)

	var engine *auction.Engine
	var innerErrs []error

	// A transferrer that tries to re-enter every guarded entry point from
	// inside the settlement sweep. Each attempt must observe the guard.
	reentrant := auction.TransferFunc(func(to uuid.UUID, amount int64, reason auction.TransferReason) error {
		innerErrs = append(innerErrs,
			engine.PlaceBid(bidderB, 1_000_000, after, "inner-bid"),
			engine.Withdraw(to, after, "inner-withdraw"),
			engine.Close(owner, after, "inner-close"),
			engine.EmergencyWithdraw(owner, after, "inner-sweep"),
		)
		return nil
	})

	persistChan := make(chan auction.Output, 64)
	e, err := auction.NewEngine(auction.Params{Owner: owner, Deadline: deadline}, reentrant, 0, persistChan, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine = e

	mustBid(t, e, bidderA, 100, baseTime)
	if err := e.Close(owner, after, "cmd-close"); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(innerErrs) != 4 {
		t.Fatalf("inner attempts: got %d, want 4", len(innerErrs))
	}
	for i, err := range innerErrs {
		if !errors.Is(err, auction.ErrReentrantCall) {
			t.Errorf("inner attempt %d: got %v, want ErrReentrantCall", i, err)
		}
	}
	// The state observed by the callback was already mutated: closed flag
	// set, winner balance zeroed.
	if e.State() != auction.StateClosed {
		t.Errorf("state: got %v, want StateClosed", e.State())
	}
}

// ============================================================================
// Test: Conservation
// ============================================================================

// The engine panics internally on any conservation breach, so driving a
// long mixed sequence both exercises the checks and pins the final numbers.
func TestConservation_AcrossSequence(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	ft := &fakeTransferrer{}
	e, _ := testEngine(t, deadline, ft)

	bidders := make([]uuid.UUID, 5)
	var total int64
	for i := range bidders {
		bidders[i] = uuid.New()
		required := total + total*auction.MinRaisePercent/100 + 1
		if required < 100 {
			required = 100 * int64(i+1)
		}
		if err := e.PlaceBid(bidders[i], required-e.TotalBidOf(bidders[i]), baseTime, fmt.Sprintf("cmd-%d", i)); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
		total = required
	}

	var received int64
	for _, b := range bidders {
		received += e.TotalBidOf(b)
	}
	if got := e.Held(); got != received {
		t.Fatalf("held before close: got %d, want %d", got, received)
	}

	if err := e.Close(owner, deadline.Add(time.Second), "cmd-close"); err != nil {
		t.Fatalf("close: %v", err)
	}

	var out, commission int64
	for _, c := range ft.calls {
		out += c.Amount
	}
	commission = received - out
	if got := e.Held(); got != commission {
		t.Errorf("held after close: got %d, want commission %d", got, commission)
	}
	if commission < 0 {
		t.Errorf("negative commission: %d", commission)
	}
}

// ============================================================================
// Test: Readers and snapshot
// ============================================================================

func TestReaders(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	e, _ := testEngine(t, deadline, &fakeTransferrer{})

	if got := e.TimeRemaining(baseTime); got != time.Hour {
		t.Errorf("TimeRemaining: got %v, want 1h", got)
	}
	if got := e.TimeRemaining(deadline.Add(time.Minute)); got != 0 {
		t.Errorf("TimeRemaining past deadline: got %v, want 0", got)
	}
	if e.IsEnded(baseTime) {
		t.Error("IsEnded before deadline")
	}
	if !e.IsEnded(deadline) {
		t.Error("IsEnded at deadline should be true")
	}
	if e.Owner() != owner {
		t.Errorf("Owner: got %v", e.Owner())
	}
	if e.MaxBidders() != 100 || e.CommissionPercent() != 2 || e.MinRaisePercent() != 5 {
		t.Error("constant readers changed")
	}
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	deadline := baseTime.Add(time.Hour)
	e, _ := testEngine(t, deadline, &fakeTransferrer{})
	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)

	snap := e.Snapshot()

	restored, _ := testEngine(t, baseTime.Add(time.Minute), &fakeTransferrer{})
	restored.RestoreSnapshot(snap)

	if restored.State() != e.State() {
		t.Errorf("state: got %v, want %v", restored.State(), e.State())
	}
	if !restored.Deadline().Equal(e.Deadline()) {
		t.Errorf("deadline: got %v, want %v", restored.Deadline(), e.Deadline())
	}
	if restored.Sequence() != e.Sequence() {
		t.Errorf("sequence: got %d, want %d", restored.Sequence(), e.Sequence())
	}
	lead, ok := restored.HighestBid()
	if !ok || lead.Bidder != bidderB || lead.Amount != 106 {
		t.Errorf("leader: got %+v ok=%v", lead, ok)
	}
	if got := restored.TotalBidOf(bidderA); got != 100 {
		t.Errorf("balance A: got %d, want 100", got)
	}
	if got := restored.UniqueBidders(); got != 2 {
		t.Errorf("unique bidders: got %d, want 2", got)
	}

	// The restored engine keeps operating: a valid raise still applies.
	if err := restored.PlaceBid(bidderA, 12, baseTime, "cmd-after"); err != nil {
		t.Errorf("bid after restore: %v", err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func mustBid(t *testing.T, e *auction.Engine, bidder uuid.UUID, amount int64, now time.Time) {
	t.Helper()
	if err := e.PlaceBid(bidder, amount, now, uuid.NewString()); err != nil {
		t.Fatalf("bid %d by %s: %v", amount, bidder, err)
	}
}

// closedEngine returns an engine closed after a single bid.
func closedEngine(t *testing.T, ft *fakeTransferrer) *auction.Engine {
	t.Helper()
	deadline := baseTime.Add(time.Hour)
	e, _ := testEngine(t, deadline, ft)
	mustBid(t, e, bidderA, 100, baseTime)
	if err := e.Close(owner, deadline.Add(time.Second), "cmd-close"); err != nil {
		t.Fatalf("close: %v", err)
	}
	return e
}

// closedEngineWith closes a two-bidder auction with accrued commission.
func closedEngineWith(t *testing.T, ft *fakeTransferrer) *auction.Engine {
	t.Helper()
	deadline := baseTime.Add(time.Hour)
	e, _ := testEngine(t, deadline, ft)
	mustBid(t, e, bidderA, 100, baseTime)
	mustBid(t, e, bidderB, 106, baseTime)
	if err := e.Close(owner, deadline.Add(time.Second), "cmd-close"); err != nil {
		t.Fatalf("close: %v", err)
	}
	return e
}
