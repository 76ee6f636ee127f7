package payment

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Customer identifies the payer to the provider.
type Customer struct {
	ID    string `json:"customer_id" validate:"required,max=50"`
	Name  string `json:"customer_name,omitempty" validate:"omitempty,max=100"`
	Phone string `json:"customer_phone" validate:"required,min=8,max=20"`
	Email string `json:"customer_email,omitempty" validate:"omitempty,email,max=100"`
}

// OrderRequest is the validated input to order placement.
type OrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,iso4217"`
	Customer Customer        `json:"customer"`
}

// OrderStatus is the provider-side lifecycle of an order:
// PENDING -> ACTIVE -> PAID | EXPIRED | FAILED.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusActive  OrderStatus = "ACTIVE"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusExpired OrderStatus = "EXPIRED"
	OrderStatusFailed  OrderStatus = "FAILED"
	OrderStatusUnknown OrderStatus = "UNKNOWN"
)

// ParseOrderStatus maps a provider status string onto the lifecycle. Values
// outside the lifecycle become OrderStatusUnknown.
func ParseOrderStatus(raw string) OrderStatus {
	switch s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case OrderStatusPending, OrderStatusActive, OrderStatusPaid, OrderStatusExpired, OrderStatusFailed:
		return s
	default:
		return OrderStatusUnknown
	}
}

// Terminal reports whether no further transition is expected.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusExpired || s == OrderStatusFailed
}

// PaymentSession is the checkout handle derived from a created order. It is
// never persisted.
type PaymentSession struct {
	SessionID       string
	OrderID         string
	CheckoutPayload json.RawMessage
}

// OrderPlacementResult is returned by a successful placement.
type OrderPlacementResult struct {
	OrderID         string
	SessionID       string
	ProviderOrderID string
	OrderStatus     OrderStatus
	// ProviderPayload is the session response when the session call ran,
	// otherwise the create-order response.
	ProviderPayload json.RawMessage
	Session         *PaymentSession
}

// ResultStatus is the two-valued outcome carried by a verified notification.
type ResultStatus string

const (
	ResultPaid  ResultStatus = "PAID"
	ResultOther ResultStatus = "OTHER"
)

// NormalizedPaymentResult is the provider-independent form of an
// authenticated payment notification.
type NormalizedPaymentResult struct {
	OrderID           string       `json:"order_id"`
	ProviderOrderID   string       `json:"provider_order_id,omitempty"`
	ProviderPaymentID string       `json:"provider_payment_id,omitempty"`
	Status            ResultStatus `json:"status"`
	ProviderStatus    string       `json:"provider_status,omitempty"`
	EventType         string       `json:"event_type,omitempty"`
	EventTime         string       `json:"event_time,omitempty"`
}

// VerificationResult is the outcome of an on-demand status check.
type VerificationResult struct {
	OrderID         string
	ProviderOrderID string
	Status          OrderStatus
	Terminal        bool
	Payload         json.RawMessage
}
