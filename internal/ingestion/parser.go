package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"AuctionLedger/internal/command"

	"github.com/google/uuid"
)

// commandJSON is the wire format on auction.commands.{verb}. Field names use
// snake_case to match upstream producers.
type commandJSON struct {
	CommandID   string `json:"command_id"`
	Caller      string `json:"caller"`
	Amount      int64  `json:"amount,omitempty"`
	TimestampUs int64  `json:"timestamp_us,omitempty"`
}

// ParseRawCommand converts a RawCommand into a typed command.Command. The
// verb comes from the subject's last token; the timestamp is the producer's
// when present, otherwise the ingestion receive time.
func ParseRawCommand(raw RawCommand) (*command.Command, error) {
	verb := subjectVerb(raw.Subject)
	typ := command.Type(verb)
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown command verb %q on subject %s", verb, raw.Subject)
	}

	var j commandJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", verb, err)
	}

	if j.CommandID == "" {
		return nil, fmt.Errorf("parse %s: command_id is required", verb)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}

	if typ == command.TypePlaceBid && j.Amount <= 0 {
		return nil, fmt.Errorf("parse place_bid: amount must be positive, got %d", j.Amount)
	}

	ts := raw.Timestamp
	if j.TimestampUs != 0 {
		ts = time.UnixMicro(j.TimestampUs)
	}

	return &command.Command{
		ID:        j.CommandID,
		Type:      typ,
		Caller:    caller,
		Amount:    j.Amount,
		Timestamp: ts,
	}, nil
}

func subjectVerb(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}
