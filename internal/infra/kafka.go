package infra

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// FiscalEvent is published on every lifecycle transition so the
// platform's audit and analytics consumers can follow the fiscal stream
// without querying this service.
type FiscalEvent struct {
	Event                  string `json:"event"` // completed | failed | resubmitted
	TransactionID          string `json:"transaction_id"`
	OrderID                string `json:"order_id"`
	BranchID               string `json:"branch_id"`
	TransactionType        string `json:"transaction_type"`
	AuthorityTransactionID string `json:"authority_transaction_id,omitempty"`
	ResponseCode           string `json:"response_code,omitempty"`
	ErrorMessage           string `json:"error_message,omitempty"`
	RetryCount             int    `json:"retry_count"`
	OccurredAt             string `json:"occurred_at"` // ISO 8601
}

// EventPublisher writes fiscal lifecycle events to Kafka. A nil
// publisher (no brokers configured) is valid and drops events silently.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher builds a publisher for the given comma-separated
// broker list. Returns nil when brokers is empty.
func NewEventPublisher(brokers, topic string) *EventPublisher {
	if brokers == "" {
		return nil
	}
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish emits one event, keyed by branch so per-branch ordering is
// preserved on the topic. Publish failures are logged, never propagated:
// eventing must not affect the fiscal write path.
func (p *EventPublisher) Publish(ctx context.Context, ev FiscalEvent) {
	if p == nil {
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("kafka: marshal fiscal event")
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.BranchID),
		Value: value,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", ev.Event).Str("transaction_id", ev.TransactionID).
			Msg("kafka: failed to publish fiscal event")
	}
}

// Close flushes and closes the underlying writer.
func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
