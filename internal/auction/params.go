package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MinRaisePercent is the minimum increase over the leading cumulative
	// bid, in whole percent. A challenger must strictly exceed
	// leader + 5%; matching the threshold exactly is rejected.
	MinRaisePercent int64 = 5

	// CommissionPercent is retained from every outbound payout and refund.
	CommissionPercent int64 = 2

	// ExtensionWindow is the anti-sniping horizon: a lead change with less
	// than or exactly this much time remaining pushes the deadline out by
	// the same amount.
	ExtensionWindow = 10 * time.Minute

	// MaxBidders caps distinct registered participants.
	MaxBidders = 100
)

// Params fixes the per-auction configuration at construction time.
type Params struct {
	Owner    uuid.UUID
	Deadline time.Time
}

func (p Params) Validate() error {
	if p.Owner == uuid.Nil {
		return fmt.Errorf("owner must be set")
	}
	if p.Deadline.IsZero() {
		return fmt.Errorf("deadline must be set")
	}
	return nil
}
