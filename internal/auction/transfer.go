package auction

import "github.com/google/uuid"

// TransferReason labels why value is leaving the ledger.
type TransferReason string

const (
	ReasonWinnerPayout    TransferReason = "winner_payout"
	ReasonRefund          TransferReason = "refund"
	ReasonPartialRefund   TransferReason = "partial_refund"
	ReasonDepositRetrieve TransferReason = "deposit_retrieve"
	ReasonCommission      TransferReason = "commission"
	ReasonEmergencySweep  TransferReason = "emergency_sweep"
)

// Transferrer moves value out of the ledger to an external account. The
// engine treats a returned error as "no value moved" and restores the
// debited balance. Implementations must not call back into the engine;
// the reentrancy guard turns such calls into ErrReentrantCall.
type Transferrer interface {
	Transfer(to uuid.UUID, amount int64, reason TransferReason) error
}

// TransferFunc adapts a function to the Transferrer interface.
type TransferFunc func(to uuid.UUID, amount int64, reason TransferReason) error

func (f TransferFunc) Transfer(to uuid.UUID, amount int64, reason TransferReason) error {
	return f(to, amount, reason)
}
