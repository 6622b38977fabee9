package ledger

import (
	"time"

	"github.com/google/uuid"
)

// BidEntry is one accepted bid in the append-only log. Sequence is global
// across all bidders and strictly increasing.
type BidEntry struct {
	EntryID   uuid.UUID `json:"entry_id"`
	Bidder    uuid.UUID `json:"bidder"`
	Amount    int64     `json:"amount"`
	NewTotal  int64     `json:"new_total"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Leader is the current highest cumulative commitment.
type Leader struct {
	Bidder uuid.UUID `json:"bidder"`
	Amount int64     `json:"amount"`
}
