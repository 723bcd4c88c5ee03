// Package events publishes domain events (alert recomputations, referral
// lifecycle changes) to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	AlertsRecomputed = "alerts.recomputed"
	ReferralCreated  = "referral.created"
	ReferralReviewed = "referral.reviewed"
)

// Event is the envelope written to the broker.
type Event struct {
	Type       string      `json:"type"`
	CenterID   string      `json:"centerId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// DefaultQueueSize bounds the events waiting for the broker.
const DefaultQueueSize = 1024

// New returns a queued Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func New(brokers []string, topic string, logger zerolog.Logger) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewQueue(NewKafkaPublisher(brokers, topic, logger), DefaultQueueSize, logger)
}

// KafkaPublisher writes events as JSON messages keyed by center id so that a
// center's events stay ordered within a partition. Delivery failures are
// reported to the logger.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn().Err(err).Int("messages", len(messages)).Str("topic", topic).Msg("event delivery failed")
			}
		},
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode builds the broker message for ev, stamping OccurredAt when unset.
func Encode(ev Event) (kafka.Message, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.CenterID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	}, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
