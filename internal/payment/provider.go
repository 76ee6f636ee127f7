package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Gateway abstracts the operations required from the upstream payment
// provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest, orderID string) (ProviderOrder, error)
	CreateSession(ctx context.Context, sessionID string, method PaymentMethod) (ProviderSession, error)
	GetOrderStatus(ctx context.Context, orderID string) (ProviderOrder, error)
}

// ProviderOrder is the provider's view of an order as returned by the
// create and status calls.
type ProviderOrder struct {
	OrderID          string     `json:"order_id"`
	CFOrderID        flexString `json:"cf_order_id"`
	OrderStatus      string     `json:"order_status"`
	PaymentSessionID string     `json:"payment_session_id"`
	SessionID        string     `json:"session_id"`
	PaymentSession   string     `json:"payment_session"`

	Raw json.RawMessage `json:"-"`
}

// ProviderSession is the answer to a session (pay) call.
type ProviderSession struct {
	Action        string `json:"action"`
	PaymentMethod string `json:"payment_method"`
	Channel       string `json:"channel"`

	Raw json.RawMessage `json:"-"`
}

// PaymentMethod selects how the session should collect payment.
type PaymentMethod struct {
	UPI *UPIMethod `json:"upi,omitempty"`
}

// UPIMethod requests a UPI payment through the given channel (link, qrcode, collect).
type UPIMethod struct {
	Channel string `json:"channel"`
}

// UPI returns a UPI method for channel.
func UPI(channel string) PaymentMethod {
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = "link"
	}
	return PaymentMethod{UPI: &UPIMethod{Channel: channel}}
}

// sessionRef is the only place that knows the field names a provider may use
// for the checkout session id.
func (o ProviderOrder) sessionRef() string {
	for _, candidate := range []string{o.PaymentSessionID, o.SessionID, o.PaymentSession} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

// active reports whether the provider accepted the order. Only the literal
// ACTIVE counts; synonyms are not guessed at.
func (o ProviderOrder) active() bool {
	return o.OrderStatus == string(OrderStatusActive)
}

// flexString accepts a JSON string or number and keeps its literal text, so
// large numeric ids survive without float rounding.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number id: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }
