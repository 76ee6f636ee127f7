package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/payment-bridge/internal/payment"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer that keys messages by order so results for
// one order land on one partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// KafkaSink publishes results to a topic.
type KafkaSink struct {
	Writer messageWriter
}

// Publish implements payment.ResultSink.
func (s KafkaSink) Publish(ctx context.Context, result payment.NormalizedPaymentResult) error {
	if s.Writer == nil {
		return errors.New("events: kafka writer not configured")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("events: encode result: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(result.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TaskPaymentResult)},
			{Key: "dedup-key", Value: []byte(DedupKey(result))},
		},
	}
	if err := s.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write kafka message: %w", err)
	}
	return nil
}
