package auction

import "AuctionLedger/internal/event"

// Output pairs a sequenced envelope with its typed notification. The engine
// emits one Output per externally visible effect; persistence consumes them
// with a blocking send and projections with a lossy one.
type Output struct {
	Envelope     *event.Envelope
	Notification event.Notification
}
