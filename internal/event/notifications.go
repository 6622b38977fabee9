package event

import (
	"time"

	"github.com/google/uuid"
)

// BidAccepted is emitted for every bid that passes admission.
// NewTotal is the bidder's accumulated commitment after the increment.
type BidAccepted struct {
	Bidder   uuid.UUID `json:"bidder"`
	Amount   int64     `json:"amount"`
	NewTotal int64     `json:"new_total"`
	Deadline time.Time `json:"deadline"`
	Extended bool      `json:"extended"`
}

func (n *BidAccepted) Type() Type { return TypeBidAccepted }

// AuctionEnded is emitted exactly once, when the auction is closed.
type AuctionEnded struct {
	Winner uuid.UUID `json:"winner"`
	Amount int64     `json:"amount"`
}

func (n *AuctionEnded) Type() Type { return TypeAuctionEnded }

// FundsWithdrawn covers both the winner payout during the close sweep and
// post-close deposit retrievals.
type FundsWithdrawn struct {
	User       uuid.UUID `json:"user"`
	Net        int64     `json:"net"`
	Commission int64     `json:"commission"`
}

func (n *FundsWithdrawn) Type() Type { return TypeFundsWithdrawn }

// NonWinnerRefunded is emitted during the close sweep for every settled
// participant other than the winner. Original is the gross balance refunded.
type NonWinnerRefunded struct {
	Bidder     uuid.UUID `json:"bidder"`
	Original   int64     `json:"original"`
	Net        int64     `json:"net"`
	Commission int64     `json:"commission"`
}

func (n *NonWinnerRefunded) Type() Type { return TypeNonWinnerRefunded }

// PartialRefundProcessed reports a pre-close excess refund. Original is the
// gross excess over the minimum the bidder must keep committed.
type PartialRefundProcessed struct {
	Bidder     uuid.UUID `json:"bidder"`
	Original   int64     `json:"original"`
	Net        int64     `json:"net"`
	Commission int64     `json:"commission"`
}

func (n *PartialRefundProcessed) Type() Type { return TypePartialRefundProcessed }

// EmergencyWithdrawal reports the owner sweeping the entire held value.
type EmergencyWithdrawal struct {
	Receiver uuid.UUID `json:"receiver"`
	Amount   int64     `json:"amount"`
}

func (n *EmergencyWithdrawal) Type() Type { return TypeEmergencyWithdrawal }

type AuctionPaused struct {
	By uuid.UUID `json:"by"`
}

func (n *AuctionPaused) Type() Type { return TypeAuctionPaused }

type AuctionResumed struct {
	By uuid.UUID `json:"by"`
}

func (n *AuctionResumed) Type() Type { return TypeAuctionResumed }
