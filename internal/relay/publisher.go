package relay

import (
	"context"
	"time"

	"github.com/richardliu001/video-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers one outbox event to the message channel. A nil error
// means the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, evt model.OutboxEvent) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher sends events keyed by event type; consumers dedupe on the
// event_id header.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// NewKafkaWriter builds the writer used in production. RequireAll makes a
// successful write mean the event is replicated.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(evt.EventType),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.ID)},
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "created_at", Value: []byte(evt.CreatedAt.UTC().Format(time.RFC3339Nano))},
		},
		Time: time.Now(),
	}
	return p.writer.WriteMessages(ctx, msg)
}
