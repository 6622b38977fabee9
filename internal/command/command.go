package command

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a command verb on the wire and in the dedup store.
type Type string

const (
	TypePlaceBid          Type = "place_bid"
	TypePartialRefund     Type = "partial_refund"
	TypeRetrieveDeposit   Type = "retrieve_deposit"
	TypePause             Type = "pause"
	TypeUnpause           Type = "unpause"
	TypeEndAuction        Type = "end_auction"
	TypeEmergencyWithdraw Type = "emergency_withdraw"
)

// Command is one mutation request for the engine. CommandID is the caller's
// idempotency handle: redeliveries carry the same ID and are applied once.
// Timestamp is the versioned "now" the engine evaluates the command at; the
// shell samples it once at ingestion.
type Command struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Caller    uuid.UUID `json:"caller"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the verb is one the engine understands.
func (t Type) Valid() bool {
	switch t {
	case TypePlaceBid, TypePartialRefund, TypeRetrieveDeposit,
		TypePause, TypeUnpause, TypeEndAuction, TypeEmergencyWithdraw:
		return true
	}
	return false
}
