package payment

import (
	"context"

	"github.com/rs/zerolog"
)

// ResultSink receives every authenticated payment result. Implementations
// must tolerate the same result being delivered more than once.
type ResultSink interface {
	Publish(ctx context.Context, result NormalizedPaymentResult) error
}

// LogSink writes results to the log and nowhere else.
type LogSink struct {
	Logger zerolog.Logger
}

// Publish implements ResultSink.
func (s LogSink) Publish(_ context.Context, result NormalizedPaymentResult) error {
	s.Logger.Info().
		Str("order_id", result.OrderID).
		Str("cf_order_id", result.ProviderOrderID).
		Str("cf_payment_id", result.ProviderPaymentID).
		Str("status", string(result.Status)).
		Str("provider_status", result.ProviderStatus).
		Str("event_type", result.EventType).
		Msg("payment_result")
	return nil
}
