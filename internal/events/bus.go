package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-bridge/internal/obs"
	"github.com/noah-isme/payment-bridge/internal/payment"
)

// NamedSink is a result sink with a stable label for logs and metrics.
type NamedSink struct {
	Name string
	Sink payment.ResultSink
}

// Bus fans a verified payment result out to every configured sink.
type Bus struct {
	Sinks  []NamedSink
	Logger zerolog.Logger
}

// Publish delivers the result to all sinks. Every sink is attempted; the
// failures are joined so the caller can decide whether to ask for a retry.
func (b *Bus) Publish(ctx context.Context, result payment.NormalizedPaymentResult) error {
	if b == nil || len(b.Sinks) == 0 {
		return errors.New("events: no result sinks configured")
	}
	logger := obs.Logger(ctx, b.Logger)
	var joined error
	for _, s := range b.Sinks {
		if s.Sink == nil {
			continue
		}
		outcome := "ok"
		if err := s.Sink.Publish(ctx, result); err != nil {
			outcome = "error"
			logger.Error().Err(err).Str("sink", s.Name).Str("order_id", result.OrderID).Msg("result_forward_failed")
			joined = errors.Join(joined, fmt.Errorf("events: sink %s: %w", s.Name, err))
		}
		if obs.ResultForwardTotal != nil {
			obs.ResultForwardTotal.WithLabelValues(s.Name, outcome).Inc()
		}
	}
	return joined
}
