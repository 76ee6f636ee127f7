package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/payment-bridge/internal/obs"
	"github.com/noah-isme/payment-bridge/internal/payment"
)

// ResultStore persists results. It reports whether the stored row changed.
type ResultStore interface {
	UpsertResult(ctx context.Context, result payment.NormalizedPaymentResult) (bool, error)
}

// ResultProcessor persists payment results delivered by the queue or topic.
type ResultProcessor struct {
	Store  ResultStore
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler. Undecodable payloads are not retried.
func (p *ResultProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TaskPaymentResult {
		return fmt.Errorf("events: unexpected task type %q: %w", t.Type(), asynq.SkipRetry)
	}
	err := p.handle(ctx, t.Payload())
	if errors.Is(err, errInvalidResult) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

var errInvalidResult = errors.New("events: invalid payment result")

func (p *ResultProcessor) handle(ctx context.Context, payload []byte) error {
	logger := obs.Logger(ctx, p.Logger)
	var result payment.NormalizedPaymentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		p.count("invalid")
		logger.Warn().Err(err).Msg("result_decode_failed")
		return fmt.Errorf("%w: %v", errInvalidResult, err)
	}
	if strings.TrimSpace(result.OrderID) == "" {
		p.count("invalid")
		logger.Warn().Str("event_type", result.EventType).Msg("result_without_order")
		return fmt.Errorf("%w: missing order_id", errInvalidResult)
	}
	if p.Store == nil {
		return errors.New("events: result store not configured")
	}
	changed, err := p.Store.UpsertResult(ctx, result)
	if err != nil {
		p.count("error")
		logger.Error().Err(err).Str("order_id", result.OrderID).Msg("result_persist_failed")
		return err
	}
	outcome := "unchanged"
	if changed {
		outcome = "stored"
	}
	p.count(outcome)
	logger.Info().
		Str("order_id", result.OrderID).
		Str("status", string(result.Status)).
		Str("outcome", outcome).
		Msg("result_persisted")
	return nil
}

func (p *ResultProcessor) count(outcome string) {
	if obs.ResultPersistTotal != nil {
		obs.ResultPersistTotal.WithLabelValues(outcome).Inc()
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader returns a consumer-group reader for the results topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// ConsumeKafka feeds messages to the processor until ctx is done. A message is
// committed once persisted or found invalid; a store failure stops the loop
// without committing so the group redelivers it.
func (p *ResultProcessor) ConsumeKafka(ctx context.Context, r messageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("events: fetch kafka message: %w", err)
		}
		if err := p.handle(ctx, msg.Value); err != nil && !errors.Is(err, errInvalidResult) {
			return err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("events: commit kafka message: %w", err)
		}
	}
}
