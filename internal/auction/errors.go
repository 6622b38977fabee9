package auction

import "errors"

// Kind classifies rejections for metrics labels and RPC error mapping.
type Kind int

const (
	KindValidation Kind = iota
	KindCapacity
	KindState
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindState:
		return "state"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

var (
	ErrZeroBid           = errors.New("bid amount must be positive")
	ErrBidTooLow         = errors.New("bid below minimum raise over current leader")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrAuctionPaused     = errors.New("auction is paused")
	ErrNotPaused         = errors.New("auction is not paused")
	ErrDeadlinePassed    = errors.New("auction deadline has passed")
	ErrAuctionNotEnded   = errors.New("auction deadline has not passed")
	ErrBidderLimit       = errors.New("bidder limit reached")
	ErrNoBidsPlaced      = errors.New("no bids were placed")
	ErrAlreadyClosed     = errors.New("auction already closed")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrNoExcessFunds     = errors.New("no refundable excess above current requirement")
	ErrNotOwner          = errors.New("caller is not the auction owner")
	ErrLeaderRefund      = errors.New("current leader cannot take a partial refund")
	ErrReentrantCall     = errors.New("reentrant call rejected")
	ErrNothingHeld       = errors.New("no funds held")
	ErrAmountOverflow    = errors.New("cumulative amount overflows int64")
	ErrTransferFailed    = errors.New("outbound transfer failed")
)

// KindOf maps a sentinel (possibly wrapped) to its rejection class.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrBidderLimit):
		return KindCapacity
	case errors.Is(err, ErrTransferFailed):
		return KindTransfer
	case errors.Is(err, ErrAuctionNotActive),
		errors.Is(err, ErrAuctionPaused),
		errors.Is(err, ErrNotPaused),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, ErrAuctionNotEnded),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrNoBidsPlaced),
		errors.Is(err, ErrNothingToWithdraw),
		errors.Is(err, ErrNothingHeld),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrReentrantCall):
		return KindState
	default:
		return KindValidation
	}
}
