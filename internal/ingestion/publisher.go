package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes notifications to NATS for downstream
// consumers. Subjects follow the pattern auction.events.{type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableNotification
}

// PublishableNotification is a processed notification ready for outbound
// publishing, built from the engine's envelope after persistence confirms.
type PublishableNotification struct {
	Sequence       int64       `json:"sequence"`
	Type           string      `json:"type"`
	IdempotencyKey string      `json:"idempotency_key"`
	CommandID      string      `json:"command_id"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableNotification) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, n); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", n.Sequence, err)
				// Non-fatal: downstream consumers can query the notification log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, n PublishableNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("auction.events.%s", n.Type)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound notification stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "AUCTION_EVENTS",
		Subjects:  []string{"auction.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream AUCTION_EVENTS")
	return nil
}
