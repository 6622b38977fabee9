package query

import "time"

// StandingResponse is a bidder's projected standing for API queries.
type StandingResponse struct {
	Bidder       string    `json:"bidder"`
	Total        int64     `json:"total"`
	BidCount     int64     `json:"bid_count"`
	LastBidAt    time.Time `json:"last_bid_at"`
	Settled      bool      `json:"settled"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// StatusResponse is the projected auction status row.
type StatusResponse struct {
	State         string     `json:"state"`
	HighestBidder *string    `json:"highest_bidder,omitempty"`
	HighestBid    int64      `json:"highest_bid"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Winner        *string    `json:"winner,omitempty"`
	WinningAmount int64      `json:"winning_amount"`
	AsOfSequence  int64      `json:"as_of_sequence"`
}

// BidHistoryEntry is one accepted bid from the durable log.
type BidHistoryEntry struct {
	EntryID   string    `json:"entry_id"`
	Bidder    string    `json:"bidder"`
	Amount    int64     `json:"amount"`
	NewTotal  int64     `json:"new_total"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEntry is one row of the notification log.
type NotificationEntry struct {
	Sequence       int64     `json:"sequence"`
	Type           string    `json:"type"`
	IdempotencyKey string    `json:"idempotency_key"`
	CommandID      string    `json:"command_id"`
	Payload        []byte    `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Imbalance is received - refunded - paid out - commission withheld,
	// recomputed from the notification log. Non-zero before close is
	// expected (funds are still held); negative is never expected.
	Imbalance int64 `json:"imbalance"`
}
