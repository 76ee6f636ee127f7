package payment

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/payment-bridge/internal/obs"
)

// Verifier answers "what is the provider's current view of this order".
// It is read-only and safe to poll.
type Verifier struct {
	Gateway Gateway
	Logger  zerolog.Logger
}

// Verify fetches the order status. A blank id fails validation without a
// provider call; any gateway failure is wrapped in *VerificationError.
func (v *Verifier) Verify(ctx context.Context, orderID string) (VerificationResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		v.count("validation")
		return VerificationResult{}, &ValidationError{Field: "order_id", Message: "is required"}
	}
	if v == nil || v.Gateway == nil {
		return VerificationResult{}, &VerificationError{OrderID: orderID, Cause: &ConfigurationError{Reason: "verifier not configured"}}
	}

	ctx, span := otel.Tracer("payment.Verifier").Start(ctx, "Verifier.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := v.Gateway.GetOrderStatus(ctx, orderID)
	if err != nil {
		vErr := &VerificationError{OrderID: orderID, Cause: err}
		v.count(vErr.Category())
		span.RecordError(err)
		span.SetStatus(codes.Error, vErr.Category())
		logger := obs.Logger(ctx, v.Logger)
		logger.Warn().Err(err).Str("order_id", orderID).Int("provider_status", vErr.StatusCode()).Msg("verify_failed")
		return VerificationResult{}, vErr
	}

	status := ParseOrderStatus(order.OrderStatus)
	span.SetAttributes(attribute.String("payment.order_status", string(status)))
	v.count("ok")
	return VerificationResult{
		OrderID:         orderID,
		ProviderOrderID: order.CFOrderID.String(),
		Status:          status,
		Terminal:        status.Terminal(),
		Payload:         order.Raw,
	}, nil
}

func (v *Verifier) count(result string) {
	if obs.PaymentVerifyTotal != nil {
		obs.PaymentVerifyTotal.WithLabelValues(providerName, result).Inc()
	}
}
