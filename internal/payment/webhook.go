package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Cashfree webhook headers.
const (
	HeaderWebhookTimestamp = "x-webhook-timestamp"
	HeaderWebhookSignature = "x-webhook-signature"
)

// ComputeSignature returns base64(HMAC-SHA256(secret, timestamp || rawBody)).
func ComputeSignature(secret []byte, timestamp string, rawBody []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type webhookPayload struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order *struct {
			OrderID     string     `json:"order_id"`
			CFOrderID   flexString `json:"cf_order_id"`
			OrderStatus string     `json:"order_status"`
		} `json:"order"`
		Payment *struct {
			CFPaymentID   flexString `json:"cf_payment_id"`
			PaymentStatus string     `json:"payment_status"`
		} `json:"payment"`
	} `json:"data"`
}

// Authenticate verifies the signature over the exact bytes received and only
// then parses them. It is deterministic and touches no shared state.
func Authenticate(rawBody []byte, timestamp, signature string, secret []byte) (NormalizedPaymentResult, error) {
	if len(secret) == 0 {
		return NormalizedPaymentResult{}, &ConfigurationError{Missing: []string{"CF_WEBHOOK_SECRET"}}
	}
	expected := ComputeSignature(secret, timestamp, rawBody)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return NormalizedPaymentResult{}, &AuthenticationError{Kind: InvalidSignature}
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return NormalizedPaymentResult{}, &AuthenticationError{Kind: MalformedPayload, Err: err}
	}
	return normalize(payload), nil
}

func normalize(p webhookPayload) NormalizedPaymentResult {
	out := NormalizedPaymentResult{
		Status:    ResultOther,
		EventType: p.Type,
		EventTime: p.EventTime,
	}
	if order := p.Data.Order; order != nil {
		out.OrderID = order.OrderID
		out.ProviderOrderID = order.CFOrderID.String()
		out.ProviderStatus = order.OrderStatus
		if order.OrderStatus == string(OrderStatusPaid) {
			out.Status = ResultPaid
		}
	}
	if payment := p.Data.Payment; payment != nil {
		out.ProviderPaymentID = payment.CFPaymentID.String()
	}
	return out
}

// WebhookAuthenticator holds the shared secret so handlers need not.
type WebhookAuthenticator struct {
	secret []byte
}

// NewWebhookAuthenticator rejects an empty secret up front.
func NewWebhookAuthenticator(secret string) (*WebhookAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, &ConfigurationError{Missing: []string{"CF_WEBHOOK_SECRET"}}
	}
	return &WebhookAuthenticator{secret: []byte(secret)}, nil
}

// Authenticate verifies and normalises one notification.
func (a *WebhookAuthenticator) Authenticate(rawBody []byte, timestamp, signature string) (NormalizedPaymentResult, error) {
	if a == nil {
		return NormalizedPaymentResult{}, &ConfigurationError{Missing: []string{"CF_WEBHOOK_SECRET"}}
	}
	return Authenticate(rawBody, timestamp, signature, a.secret)
}

// IsAuthFailure reports whether err is an authentication error of kind.
func IsAuthFailure(err error, kind AuthFailure) bool {
	var aErr *AuthenticationError
	return errors.As(err, &aErr) && aErr.Kind == kind
}
