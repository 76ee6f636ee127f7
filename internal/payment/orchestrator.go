package payment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/payment-bridge/internal/obs"
)

// Defaults fill optional placement fields.
type Defaults struct {
	Currency string
	Customer Customer
}

// Orchestrator places orders: validate, assign an id, create the order once,
// derive the checkout session and optionally open it.
type Orchestrator struct {
	Gateway       Gateway
	IDs           IDGenerator
	Defaults      Defaults
	InlineSession bool
	Method        PaymentMethod
	Logger        zerolog.Logger

	validate *validator.Validate
}

// NewOrchestrator wires an orchestrator with a struct validator that reports
// JSON field names.
func NewOrchestrator(gw Gateway, ids IDGenerator, defaults Defaults) *Orchestrator {
	if ids == nil {
		ids = TimeRandomIDs{}
	}
	return &Orchestrator{
		Gateway:  gw,
		IDs:      ids,
		Defaults: defaults,
		Method:   UPI(""),
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// PlaceOrder runs the placement flow. It either returns a result with a
// non-empty order and session id or an error; the provider is asked to
// create the order at most once per call and never when validation fails.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req OrderRequest) (OrderPlacementResult, error) {
	var zero OrderPlacementResult
	if o == nil || o.Gateway == nil {
		return zero, &ConfigurationError{Reason: "order orchestrator not configured"}
	}
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.PlaceOrder")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.order.result", result))
		if obs.PaymentOrderTotal != nil {
			obs.PaymentOrderTotal.WithLabelValues(providerName, result).Inc()
		}
	}()

	req = o.withDefaults(req)
	if err := o.check(req); err != nil {
		result = "validation"
		return zero, err
	}

	ids := o.IDs
	if ids == nil {
		ids = TimeRandomIDs{}
	}
	orderID := ids.NewOrderID()
	span.SetAttributes(attribute.String("order.id", orderID))
	logger := obs.Logger(ctx, o.Logger).With().Str("order_id", orderID).Logger()

	created, err := o.Gateway.CreateOrder(ctx, req, orderID)
	if err != nil {
		result = errorLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logger.Warn().Err(err).Msg("create_order_failed")
		return zero, err
	}
	if !created.active() {
		result = "rejected"
		logger.Warn().Str("order_status", created.OrderStatus).Msg("create_order_not_active")
		return zero, &OrchestrationError{
			Reason:  ReasonProviderRejected,
			OrderID: orderID,
			Message: fmt.Sprintf("order status %q", created.OrderStatus),
			Details: created.Raw,
		}
	}
	sessionID := created.sessionRef()
	if sessionID == "" {
		result = "rejected"
		logger.Warn().Msg("create_order_missing_session")
		return zero, &OrchestrationError{
			Reason:  ReasonProviderRejected,
			OrderID: orderID,
			Message: "response carried no payment session id",
			Details: created.Raw,
		}
	}

	out := OrderPlacementResult{
		OrderID:         orderID,
		SessionID:       sessionID,
		ProviderOrderID: created.CFOrderID.String(),
		OrderStatus:     OrderStatusActive,
		ProviderPayload: created.Raw,
	}
	if o.InlineSession {
		session, err := o.Gateway.CreateSession(ctx, sessionID, o.Method)
		if err != nil {
			result = errorLabel(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
			logger.Warn().Err(err).Msg("create_session_failed")
			return zero, &SessionError{OrderID: orderID, Cause: err}
		}
		out.ProviderPayload = session.Raw
		out.Session = &PaymentSession{SessionID: sessionID, OrderID: orderID, CheckoutPayload: session.Raw}
	}

	result = "ok"
	logger.Info().Str("cf_order_id", out.ProviderOrderID).Bool("session_opened", out.Session != nil).Msg("order_placed")
	return out, nil
}

func (o *Orchestrator) withDefaults(req OrderRequest) OrderRequest {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = o.Defaults.Currency
	}
	c := &req.Customer
	c.ID = firstNonEmpty(c.ID, o.Defaults.Customer.ID)
	c.Name = firstNonEmpty(c.Name, o.Defaults.Customer.Name)
	c.Phone = firstNonEmpty(c.Phone, o.Defaults.Customer.Phone)
	c.Email = firstNonEmpty(c.Email, o.Defaults.Customer.Email)
	return req
}

func (o *Orchestrator) check(req OrderRequest) error {
	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return &ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	}
	if req.Amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: "amount", Message: "exceeds the maximum order amount"}
	}
	v := o.validate
	if v == nil {
		v = newValidator()
	}
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Message: describeRule(fe)}
	}
	return &ValidationError{Message: err.Error()}
}

var maxAmount = decimal.NewFromInt(100_000_000)

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func errorLabel(err error) string {
	var (
		cErr *ConfigurationError
		tErr *TimeoutError
		vErr *ValidationError
	)
	switch {
	case errors.As(err, &cErr):
		return "misconfigured"
	case errors.As(err, &tErr):
		return "timeout"
	case errors.As(err, &vErr):
		return "validation"
	default:
		return "provider_error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
