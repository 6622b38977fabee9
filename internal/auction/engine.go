package auction

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"AuctionLedger/internal/event"
	"AuctionLedger/internal/ledger"
	fpmath "AuctionLedger/internal/math"
	"AuctionLedger/internal/observability"

	"github.com/google/uuid"
)

// Engine is the single-threaded auction state machine. All mutation flows
// through the serialized command loop in internal/service; the engine never
// calls time.Now() — "now" is a versioned input sampled once per command.
type Engine struct {
	params   Params
	state    State
	deadline time.Time

	ledger    *ledger.BidLedger
	validator *ledger.InvariantValidator
	hasher    *StateHasher
	sequence  int64

	transfer Transferrer
	metrics  *observability.Metrics

	// inCall guards every mutating entry point. A Transferrer callback that
	// re-enters the engine observes it and fails with ErrReentrantCall.
	inCall bool

	persistChan    chan<- Output
	projectionChan chan<- Output
}

func NewEngine(
	params Params,
	transfer Transferrer,
	startSequence int64,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if transfer == nil {
		return nil, fmt.Errorf("transferrer must be set")
	}

	return &Engine{
		params:         params,
		state:          StateOpen,
		deadline:       params.Deadline,
		ledger:         ledger.NewBidLedger(),
		validator:      ledger.NewInvariantValidator(),
		hasher:         NewStateHasher(),
		sequence:       startSequence,
		transfer:       transfer,
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}, nil
}

// === Guard ===

func (e *Engine) enter() error {
	if e.inCall {
		return ErrReentrantCall
	}
	e.inCall = true
	return nil
}

func (e *Engine) exit() {
	e.inCall = false
}

// === Mutators ===

// PlaceBid admits a bid increment for the given bidder. A first-time bidder
// is registered (or rejected on capacity) before the raise threshold is
// checked, and stays registered even if the threshold check then fails.
func (e *Engine) PlaceBid(bidder uuid.UUID, amount int64, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	switch e.state {
	case StateClosed:
		return ErrAuctionNotActive
	case StatePaused:
		return ErrAuctionPaused
	}
	if !now.Before(e.deadline) {
		return ErrDeadlinePassed
	}
	if amount <= 0 {
		return ErrZeroBid
	}

	if !e.ledger.IsRegistered(bidder) {
		if e.ledger.BidderCount() >= MaxBidders {
			return ErrBidderLimit
		}
		e.ledger.Register(bidder)
	}

	newTotal, ok := fpmath.AddChecked(e.ledger.Balance(bidder), amount)
	if !ok {
		return fmt.Errorf("%w: cumulative bid for %s", ErrAmountOverflow, bidder)
	}

	lead, hasLeader := e.ledger.Leader()
	if hasLeader {
		// Strict raise: matching leader + 5% exactly is still too low.
		threshold := lead.Amount + fpmath.PercentOf(lead.Amount, MinRaisePercent)
		if newTotal <= threshold {
			return ErrBidTooLow
		}
	}

	entry := ledger.BidEntry{
		EntryID:   uuid.New(),
		Bidder:    bidder,
		Amount:    amount,
		NewTotal:  newTotal,
		Sequence:  e.sequence,
		Timestamp: now,
	}
	e.ledger.ApplyBid(entry)
	e.ledger.SetLeader(bidder, newTotal)

	// Anti-sniping: a lead change inside the extension window pushes the
	// deadline out by the window. The very first bid never extends.
	extended := false
	if hasLeader && e.deadline.Sub(now) <= ExtensionWindow {
		e.deadline = e.deadline.Add(ExtensionWindow)
		extended = true
		if e.metrics != nil {
			e.metrics.DeadlineExtensions.Inc()
		}
	}

	e.emit(commandID, now, &event.BidAccepted{
		Bidder:   bidder,
		Amount:   amount,
		NewTotal: newTotal,
		Deadline: e.deadline,
		Extended: extended,
	})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// PartialRefund returns the caller's excess commitment above the amount a
// challenger would need to keep, net of commission. The leader cannot take
// a partial refund.
func (e *Engine) PartialRefund(bidder uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	switch e.state {
	case StateClosed:
		return ErrAuctionNotActive
	case StatePaused:
		return ErrAuctionPaused
	}
	if !now.Before(e.deadline) {
		return ErrDeadlinePassed
	}

	lead, hasLeader := e.ledger.Leader()
	if !hasLeader {
		return ErrNoExcessFunds
	}
	if lead.Bidder == bidder {
		return ErrLeaderRefund
	}

	required := lead.Amount + fpmath.PercentOf(lead.Amount, MinRaisePercent)
	excess := e.ledger.Balance(bidder) - required
	if excess <= 0 {
		return ErrNoExcessFunds
	}

	commission := fpmath.PercentOf(excess, CommissionPercent)
	net := excess - commission

	// Effects before interaction: the balance is already reduced when the
	// transfer callback runs.
	e.ledger.AccrueCommission(bidder, commission)
	e.ledger.Debit(bidder, net)

	if err := e.transfer.Transfer(bidder, net, ReasonPartialRefund); err != nil {
		e.ledger.RestoreBalance(bidder, net)
		e.ledger.ReleaseCommission(bidder, commission)
		e.recordTransferFailure(ReasonPartialRefund)
		return fmt.Errorf("%w: partial refund to %s: %v", ErrTransferFailed, bidder, err)
	}
	e.ledger.RecordOutbound(net)
	e.recordTransfer(ReasonPartialRefund, net, commission)

	e.emit(commandID, now, &event.PartialRefundProcessed{
		Bidder:     bidder,
		Original:   excess,
		Net:        net,
		Commission: commission,
	})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// Pause suspends bid admission. The deadline clock keeps running.
func (e *Engine) Pause(caller uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if caller != e.params.Owner {
		return ErrNotOwner
	}
	switch e.state {
	case StateClosed:
		return ErrAlreadyClosed
	case StatePaused:
		return ErrAuctionPaused
	}

	e.state = StatePaused
	e.emit(commandID, now, &event.AuctionPaused{By: caller})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

func (e *Engine) Unpause(caller uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if caller != e.params.Owner {
		return ErrNotOwner
	}
	switch e.state {
	case StateClosed:
		return ErrAlreadyClosed
	case StateOpen:
		return ErrNotPaused
	}

	e.state = StateOpen
	e.emit(commandID, now, &event.AuctionResumed{By: caller})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// Close settles the auction: the winner's commitment is paid out net of
// commission and every other participant is refunded net of commission, in
// registration order. The closed flag is set before any transfer, so a
// transfer failure stops the sweep but never reopens the auction — unpaid
// participants retrieve their funds via Withdraw.
func (e *Engine) Close(caller uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if caller != e.params.Owner {
		return ErrNotOwner
	}
	if e.state == StateClosed {
		return ErrAlreadyClosed
	}
	if now.Before(e.deadline) {
		return ErrAuctionNotEnded
	}
	lead, hasLeader := e.ledger.Leader()
	if !hasLeader {
		return ErrNoBidsPlaced
	}

	e.state = StateClosed
	e.emit(commandID, now, &event.AuctionEnded{Winner: lead.Bidder, Amount: lead.Amount})

	for _, bidder := range e.ledger.Bidders() {
		balance := e.ledger.Balance(bidder)
		if balance == 0 {
			continue
		}

		commission := fpmath.PercentOf(balance, CommissionPercent)
		e.ledger.AccrueCommission(bidder, commission)
		net := e.ledger.DebitForPayout(bidder)

		reason := ReasonRefund
		if bidder == lead.Bidder {
			reason = ReasonWinnerPayout
		}

		if err := e.transfer.Transfer(bidder, net, reason); err != nil {
			e.ledger.RestoreBalance(bidder, net)
			e.ledger.ReleaseCommission(bidder, commission)
			e.recordTransferFailure(reason)
			e.postCheckInvariants()
			e.updateStateMetrics()
			return fmt.Errorf("%w: settling %s: %v", ErrTransferFailed, bidder, err)
		}
		e.ledger.RecordOutbound(net)
		e.recordTransfer(reason, net, commission)

		if bidder == lead.Bidder {
			e.emit(commandID, now, &event.FundsWithdrawn{
				User:       bidder,
				Net:        net,
				Commission: commission,
			})
		} else {
			e.emit(commandID, now, &event.NonWinnerRefunded{
				Bidder:     bidder,
				Original:   balance,
				Net:        net,
				Commission: commission,
			})
		}
	}

	if bal := e.ledger.Balance(lead.Bidder); bal != 0 {
		panic(fmt.Sprintf("FATAL: winner %s holds balance %d after a completed settlement sweep", lead.Bidder, bal))
	}

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// Withdraw lets a participant retrieve their remaining balance after the
// auction is closed, net of commission. A second call finds nothing.
func (e *Engine) Withdraw(caller uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if e.state != StateClosed {
		return ErrAuctionNotEnded
	}

	balance := e.ledger.Balance(caller)
	if balance == 0 {
		return ErrNothingToWithdraw
	}

	commission := fpmath.PercentOf(balance, CommissionPercent)
	e.ledger.AccrueCommission(caller, commission)
	net := e.ledger.DebitForPayout(caller)

	if err := e.transfer.Transfer(caller, net, ReasonDepositRetrieve); err != nil {
		e.ledger.RestoreBalance(caller, net)
		e.ledger.ReleaseCommission(caller, commission)
		e.recordTransferFailure(ReasonDepositRetrieve)
		return fmt.Errorf("%w: withdrawing for %s: %v", ErrTransferFailed, caller, err)
	}
	e.ledger.RecordOutbound(net)
	e.recordTransfer(ReasonDepositRetrieve, net, commission)

	e.emit(commandID, now, &event.FundsWithdrawn{
		User:       caller,
		Net:        net,
		Commission: commission,
	})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// EmergencyWithdraw sweeps everything the ledger still holds — residual
// balances and accrued commission — to the owner, bypassing per-participant
// accounting. After a completed sweep the backing identity is void and
// individual withdrawals find an empty pool.
func (e *Engine) EmergencyWithdraw(caller uuid.UUID, now time.Time, commandID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if caller != e.params.Owner {
		return ErrNotOwner
	}
	if e.state != StateClosed {
		return ErrAuctionNotEnded
	}
	if e.ledger.Held() <= 0 {
		return ErrNothingHeld
	}

	swept := e.ledger.EmergencySweep()

	if err := e.transfer.Transfer(e.params.Owner, swept, ReasonEmergencySweep); err != nil {
		e.ledger.RestoreEmergencySweep(swept)
		e.recordTransferFailure(ReasonEmergencySweep)
		return fmt.Errorf("%w: emergency sweep: %v", ErrTransferFailed, err)
	}
	e.recordTransfer(ReasonEmergencySweep, swept, 0)

	e.emit(commandID, now, &event.EmergencyWithdrawal{
		Receiver: e.params.Owner,
		Amount:   swept,
	})

	e.postCheckInvariants()
	e.updateStateMetrics()
	return nil
}

// === Readers ===

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) Owner() uuid.UUID {
	return e.params.Owner
}

func (e *Engine) Deadline() time.Time {
	return e.deadline
}

// TimeRemaining reports how long until the deadline, floored at zero.
func (e *Engine) TimeRemaining(now time.Time) time.Duration {
	rem := e.deadline.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

func (e *Engine) IsEnded(now time.Time) bool {
	return e.state == StateClosed || !now.Before(e.deadline)
}

// HighestBid returns the current leader, if any bid has been accepted.
func (e *Engine) HighestBid() (ledger.Leader, bool) {
	return e.ledger.Leader()
}

func (e *Engine) TotalBidOf(bidder uuid.UUID) int64 {
	return e.ledger.Balance(bidder)
}

func (e *Engine) BidsOf(bidder uuid.UUID) []ledger.BidEntry {
	return e.ledger.History(bidder)
}

func (e *Engine) AllBids() []ledger.BidEntry {
	return e.ledger.AllEntries()
}

func (e *Engine) UniqueBidders() int {
	return e.ledger.BidderCount()
}

func (e *Engine) MaxBidders() int {
	return MaxBidders
}

func (e *Engine) CommissionPercent() int64 {
	return CommissionPercent
}

func (e *Engine) MinRaisePercent() int64 {
	return MinRaisePercent
}

func (e *Engine) Held() int64 {
	return e.ledger.Held()
}

func (e *Engine) Sequence() int64 {
	return e.sequence
}

// === Snapshot / restore ===

type EngineSnapshot struct {
	State    State           `json:"state"`
	Deadline time.Time       `json:"deadline"`
	Sequence int64           `json:"sequence"`
	PrevHash [32]byte        `json:"prev_hash"`
	Ledger   ledger.Snapshot `json:"ledger"`
}

func (e *Engine) Snapshot() EngineSnapshot {
	return EngineSnapshot{
		State:    e.state,
		Deadline: e.deadline,
		Sequence: e.sequence,
		PrevHash: e.hasher.GetPrevHash(),
		Ledger:   e.ledger.Snapshot(),
	}
}

func (e *Engine) RestoreSnapshot(snap EngineSnapshot) {
	e.state = snap.State
	e.deadline = snap.Deadline
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.PrevHash)
	e.ledger.Restore(snap.Ledger)
	e.updateStateMetrics()
}

// === Internals ===

// emit wraps the notification in a sequenced envelope and hands it to the
// persistence channel (blocking, backpressure) and the projection channel
// (non-blocking, lossy).
func (e *Engine) emit(commandID string, now time.Time, n event.Notification) {
	digest := e.computeStateDigest()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		Type:           n.Type(),
		IdempotencyKey: fmt.Sprintf("%s:%d", n.Type(), e.sequence),
		CommandID:      commandID,
		Timestamp:      now,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	out := Output{Envelope: envelope, Notification: n}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

// computeStateDigest serializes the auction state deterministically for the
// hash chain: lifecycle, deadline, leader, conservation counters, then every
// balance in registration order.
func (e *Engine) computeStateDigest() []byte {
	var buf bytes.Buffer

	writeI64 := func(v int64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		buf.Write(b[:])
	}

	writeI64(int64(e.state))
	writeI64(e.deadline.UnixMicro())

	if lead, ok := e.ledger.Leader(); ok {
		buf.Write(lead.Bidder[:])
		writeI64(lead.Amount)
	} else {
		buf.Write(make([]byte, 16))
		writeI64(0)
	}

	writeI64(e.ledger.Received())
	writeI64(e.ledger.TransferredOut())
	writeI64(e.ledger.Commission())

	for _, bidder := range e.ledger.Bidders() {
		buf.Write(bidder[:])
		writeI64(e.ledger.Balance(bidder))
	}

	return buf.Bytes()
}

func (e *Engine) postCheckInvariants() {
	if err := e.validator.ValidateConservation(e.ledger); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	if err := e.validator.ValidateNonNegative(e.ledger); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	if err := e.validator.ValidateLeader(e.ledger); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

func (e *Engine) recordTransfer(reason TransferReason, net, commission int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransfersOut.WithLabelValues(string(reason)).Inc()
	e.metrics.TransferredAmount.WithLabelValues(string(reason)).Add(float64(net))
	if commission > 0 {
		e.metrics.CommissionCollected.Add(float64(commission))
	}
}

func (e *Engine) recordTransferFailure(reason TransferReason) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransferFailures.WithLabelValues(string(reason)).Inc()
}

func (e *Engine) updateStateMetrics() {
	if e.metrics == nil {
		return
	}
	e.metrics.AuctionState.Set(float64(e.state))
	e.metrics.DeadlineUnix.Set(float64(e.deadline.Unix()))
	e.metrics.HeldBalance.Set(float64(e.ledger.Held()))
	e.metrics.CommissionAccrued.Set(float64(e.ledger.Commission()))
	e.metrics.UniqueBidders.Set(float64(e.ledger.BidderCount()))
	if lead, ok := e.ledger.Leader(); ok {
		e.metrics.HighestBid.Set(float64(lead.Amount))
	}
}
