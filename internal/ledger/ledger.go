package ledger

import (
	"github.com/google/uuid"
)

// BidLedger maintains per-bidder balances, the append-only bid log and the
// conservation counters backing the engine's invariant checks.
//
// The ledger is not safe for concurrent use. All mutation flows through the
// single-writer engine loop.
type BidLedger struct {
	balances map[uuid.UUID]int64
	history  map[uuid.UUID][]BidEntry
	entries  []BidEntry

	registry map[uuid.UUID]struct{}
	order    []uuid.UUID

	leader *Leader

	// Conservation counters. held = received - transferredOut at all times;
	// sum(balances) + commission == held unless an emergency sweep drained
	// the pool out from under the per-bidder balances.
	received       int64
	transferredOut int64
	commission     int64
	emergencySwept bool
}

func NewBidLedger() *BidLedger {
	return &BidLedger{
		balances: make(map[uuid.UUID]int64),
		history:  make(map[uuid.UUID][]BidEntry),
		registry: make(map[uuid.UUID]struct{}),
	}
}

// === Registry ===

func (l *BidLedger) IsRegistered(bidder uuid.UUID) bool {
	_, ok := l.registry[bidder]
	return ok
}

// Register adds a first-time bidder. Registration is permanent: a bidder
// stays registered even if every bid they place afterwards is rejected.
func (l *BidLedger) Register(bidder uuid.UUID) {
	if _, ok := l.registry[bidder]; ok {
		return
	}
	l.registry[bidder] = struct{}{}
	l.order = append(l.order, bidder)
}

func (l *BidLedger) BidderCount() int {
	return len(l.registry)
}

// Bidders returns registered bidders in first-seen order.
func (l *BidLedger) Bidders() []uuid.UUID {
	out := make([]uuid.UUID, len(l.order))
	copy(out, l.order)
	return out
}

// === Leadership ===

func (l *BidLedger) Leader() (Leader, bool) {
	if l.leader == nil {
		return Leader{}, false
	}
	return *l.leader, true
}

func (l *BidLedger) SetLeader(bidder uuid.UUID, amount int64) {
	l.leader = &Leader{Bidder: bidder, Amount: amount}
}

// === Balances and the bid log ===

func (l *BidLedger) Balance(bidder uuid.UUID) int64 {
	return l.balances[bidder]
}

// ApplyBid credits the increment to the bidder's balance, records the entry
// in both the per-bidder history and the global log, and bumps received.
func (l *BidLedger) ApplyBid(e BidEntry) {
	l.balances[e.Bidder] += e.Amount
	l.received += e.Amount
	l.history[e.Bidder] = append(l.history[e.Bidder], e)
	l.entries = append(l.entries, e)
}

func (l *BidLedger) History(bidder uuid.UUID) []BidEntry {
	src := l.history[bidder]
	out := make([]BidEntry, len(src))
	copy(out, src)
	return out
}

// AllEntries returns the global bid log in sequence order.
func (l *BidLedger) AllEntries() []BidEntry {
	out := make([]BidEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// === Settlement bookkeeping ===

// DebitForPayout zeroes the bidder's balance ahead of an outbound transfer
// and returns the amount taken. The caller restores it if the transfer fails.
func (l *BidLedger) DebitForPayout(bidder uuid.UUID) int64 {
	amt := l.balances[bidder]
	l.balances[bidder] = 0
	return amt
}

// RestoreBalance puts back a debited balance after a failed transfer.
func (l *BidLedger) RestoreBalance(bidder uuid.UUID, amount int64) {
	l.balances[bidder] += amount
}

// Debit removes part of the bidder's balance ahead of a partial refund.
func (l *BidLedger) Debit(bidder uuid.UUID, amount int64) {
	l.balances[bidder] -= amount
}

// AccrueCommission moves value from a bidder's balance into the commission
// pool without leaving the ledger.
func (l *BidLedger) AccrueCommission(bidder uuid.UUID, amount int64) {
	l.balances[bidder] -= amount
	l.commission += amount
}

// ReleaseCommission reverses an accrual after a failed transfer.
func (l *BidLedger) ReleaseCommission(bidder uuid.UUID, amount int64) {
	l.commission -= amount
	l.balances[bidder] += amount
}

// RecordOutbound marks value as having left the ledger via a completed
// external transfer.
func (l *BidLedger) RecordOutbound(amount int64) {
	l.transferredOut += amount
}

// === Emergency sweep ===

// EmergencySweep drains the entire held value without settling per-bidder
// balances and returns the drained amount. The backing identity
// sum(balances)+commission == held no longer holds afterwards.
func (l *BidLedger) EmergencySweep() int64 {
	amt := l.Held()
	l.transferredOut += amt
	l.emergencySwept = true
	return amt
}

// RestoreEmergencySweep reverses EmergencySweep after a failed transfer.
func (l *BidLedger) RestoreEmergencySweep(amount int64) {
	l.transferredOut -= amount
	l.emergencySwept = false
}

func (l *BidLedger) EmergencySwept() bool {
	return l.emergencySwept
}

// === Conservation queries ===

func (l *BidLedger) Received() int64 {
	return l.received
}

func (l *BidLedger) TransferredOut() int64 {
	return l.transferredOut
}

// Held is the value currently inside the ledger.
func (l *BidLedger) Held() int64 {
	return l.received - l.transferredOut
}

func (l *BidLedger) Commission() int64 {
	return l.commission
}

func (l *BidLedger) SumBalances() int64 {
	var sum int64
	for _, b := range l.balances {
		sum += b
	}
	return sum
}

// === Snapshot / Restore ===

type BalanceSnapshot struct {
	Bidder  uuid.UUID `json:"bidder"`
	Balance int64     `json:"balance"`
}

type Snapshot struct {
	Balances       []BalanceSnapshot `json:"balances"`
	Entries        []BidEntry        `json:"entries"`
	Bidders        []uuid.UUID       `json:"bidders"`
	Leader         *Leader           `json:"leader,omitempty"`
	Received       int64             `json:"received"`
	TransferredOut int64             `json:"transferred_out"`
	Commission     int64             `json:"commission"`
	EmergencySwept bool              `json:"emergency_swept"`
}

func (l *BidLedger) Snapshot() Snapshot {
	snap := Snapshot{
		Entries:        l.AllEntries(),
		Bidders:        l.Bidders(),
		Received:       l.received,
		TransferredOut: l.transferredOut,
		Commission:     l.commission,
		EmergencySwept: l.emergencySwept,
	}
	for _, b := range l.order {
		snap.Balances = append(snap.Balances, BalanceSnapshot{Bidder: b, Balance: l.balances[b]})
	}
	if l.leader != nil {
		lead := *l.leader
		snap.Leader = &lead
	}
	return snap
}

func (l *BidLedger) Restore(snap Snapshot) {
	l.balances = make(map[uuid.UUID]int64, len(snap.Balances))
	l.history = make(map[uuid.UUID][]BidEntry)
	l.entries = nil
	l.registry = make(map[uuid.UUID]struct{}, len(snap.Bidders))
	l.order = nil
	l.leader = nil

	for _, b := range snap.Bidders {
		l.registry[b] = struct{}{}
		l.order = append(l.order, b)
	}
	for _, bs := range snap.Balances {
		l.balances[bs.Bidder] = bs.Balance
	}
	for _, e := range snap.Entries {
		l.history[e.Bidder] = append(l.history[e.Bidder], e)
		l.entries = append(l.entries, e)
	}
	if snap.Leader != nil {
		lead := *snap.Leader
		l.leader = &lead
	}
	l.received = snap.Received
	l.transferredOut = snap.TransferredOut
	l.commission = snap.Commission
	l.emergencySwept = snap.EmergencySwept
}
