package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AuctionLedger/internal/auction"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

const PayoutStreamName = "AUCTION_PAYOUTS"

// PayoutTransferrer moves value out of the ledger by publishing a payout
// instruction to the AUCTION_PAYOUTS stream. A synchronous publish ack from
// JetStream is the transfer succeeding; a publish error is the transfer
// failing, and the engine rolls the debit back.
type PayoutTransferrer struct {
	js      jetstream.JetStream
	timeout time.Duration
}

// PayoutInstruction is the durable record consumed by the settlement
// gateway that actually moves money.
type PayoutInstruction struct {
	PayoutID     string    `json:"payout_id"`
	Recipient    uuid.UUID `json:"recipient"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	InstructedAt time.Time `json:"instructed_at"`
}

func NewPayoutTransferrer(js jetstream.JetStream, timeout time.Duration) *PayoutTransferrer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PayoutTransferrer{js: js, timeout: timeout}
}

// Transfer implements auction.Transferrer.
func (p *PayoutTransferrer) Transfer(to uuid.UUID, amount int64, reason auction.TransferReason) error {
	instruction := PayoutInstruction{
		PayoutID:     uuid.NewString(),
		Recipient:    to,
		Amount:       amount,
		Reason:       string(reason),
		InstructedAt: time.Now(),
	}

	data, err := json.Marshal(instruction)
	if err != nil {
		return fmt.Errorf("marshal payout instruction: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	subject := fmt.Sprintf("auction.payouts.%s", reason)
	if _, err := p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(instruction.PayoutID)); err != nil {
		return fmt.Errorf("publish payout: %w", err)
	}
	return nil
}
