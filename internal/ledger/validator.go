package ledger

import "fmt"

// InvariantValidator checks the conservation identities after every state
// transition. A violation means the ledger itself is corrupt, not that a
// caller made a bad request, so the engine escalates failures to a panic.
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ValidateConservation checks that every unit that entered the ledger is
// either still backing a balance, accrued as commission, or accounted for
// as an outbound transfer.
func (v *InvariantValidator) ValidateConservation(l *BidLedger) error {
	held := l.Held()
	if held < 0 {
		return fmt.Errorf("conservation violated: held %d is negative (received=%d transferred_out=%d)",
			held, l.Received(), l.TransferredOut())
	}

	if l.EmergencySwept() {
		// Balances are no longer backed after an emergency sweep; the
		// identity below is meaningless once the pool is drained.
		return nil
	}

	backed := l.SumBalances() + l.Commission()
	if backed != held {
		return fmt.Errorf("conservation violated: balances+commission=%d but held=%d (received=%d transferred_out=%d commission=%d)",
			backed, held, l.Received(), l.TransferredOut(), l.Commission())
	}

	return nil
}

// ValidateNonNegative checks that no bidder balance has gone below zero.
func (v *InvariantValidator) ValidateNonNegative(l *BidLedger) error {
	for _, b := range l.Bidders() {
		if bal := l.Balance(b); bal < 0 {
			return fmt.Errorf("negative balance %d for bidder %s", bal, b)
		}
	}
	if l.Commission() < 0 {
		return fmt.Errorf("negative commission pool %d", l.Commission())
	}
	return nil
}

// ValidateLeader checks that the recorded leader actually holds the highest
// cumulative bid among all histories.
func (v *InvariantValidator) ValidateLeader(l *BidLedger) error {
	lead, ok := l.Leader()
	if !ok {
		if len(l.AllEntries()) != 0 {
			return fmt.Errorf("bid log is non-empty but no leader is recorded")
		}
		return nil
	}
	for _, e := range l.AllEntries() {
		if e.NewTotal > lead.Amount {
			return fmt.Errorf("leader %s at %d is below recorded total %d of bidder %s",
				lead.Bidder, lead.Amount, e.NewTotal, e.Bidder)
		}
	}
	return nil
}
