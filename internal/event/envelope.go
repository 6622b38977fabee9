package event

import (
	"time"
)

// Type discriminator for notification payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeBidAccepted
	TypeAuctionEnded
	TypeFundsWithdrawn
	TypeNonWinnerRefunded
	TypePartialRefundProcessed
	TypeEmergencyWithdrawal
	TypeAuctionPaused
	TypeAuctionResumed
)

// Envelope wraps every notification in the log
type Envelope struct {
	// Monotonic sequence assigned by the engine
	Sequence int64

	// Notification type discriminator
	Type Type

	// Stable dedup key for downstream consumers ({type}:{sequence})
	IdempotencyKey string

	// ID of the command that produced this notification
	CommandID string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// SHA-256 of engine state AFTER applying the operation
	StateHash [32]byte

	// Previous notification's state hash (chain integrity)
	PrevHash [32]byte
}

// Notification is the interface all outbound payloads implement
type Notification interface {
	Type() Type
}

func (t Type) String() string {
	switch t {
	case TypeBidAccepted:
		return "BidAccepted"
	case TypeAuctionEnded:
		return "AuctionEnded"
	case TypeFundsWithdrawn:
		return "FundsWithdrawn"
	case TypeNonWinnerRefunded:
		return "NonWinnerRefunded"
	case TypePartialRefundProcessed:
		return "PartialRefundProcessed"
	case TypeEmergencyWithdrawal:
		return "EmergencyWithdrawal"
	case TypeAuctionPaused:
		return "AuctionPaused"
	case TypeAuctionResumed:
		return "AuctionResumed"
	default:
		return "Unknown"
	}
}
