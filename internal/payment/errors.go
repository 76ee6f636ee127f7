package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/payment-bridge/internal/resilience"
)

// ReasonProviderRejected marks an order the provider did not activate.
const ReasonProviderRejected = "provider_rejected"

// ValidationError reports input rejected before any provider call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "payment: invalid request: " + e.Message
	}
	return fmt.Sprintf("payment: invalid %s: %s", e.Field, e.Message)
}

// ConfigurationError reports missing or invalid provider settings.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(parts) == 0 {
		return "payment: provider misconfigured"
	}
	return "payment: provider misconfigured: " + strings.Join(parts, "; ")
}

// ProviderError reports a non-2xx answer, an unreadable 2xx answer or a
// transport failure. StatusCode is zero when no response was received.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("payment: provider %s returned %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("payment: provider %s returned %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("payment: provider %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("payment: provider %s failed", e.Op)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	if errors.Is(e.Err, resilience.ErrOpenCircuit) {
		return true
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// CredentialsRejected reports a 401 or 403: the configured client id or
// secret is wrong, which no retry or input change will fix.
func (e *ProviderError) CredentialsRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Details returns the provider body for relaying to the client: raw JSON
// when it parses, trimmed text otherwise.
func (e *ProviderError) Details() any {
	if len(e.Body) == 0 {
		return nil
	}
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	text := strings.TrimSpace(string(e.Body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// TimeoutError reports a provider call that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("payment: provider %s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// OrchestrationError reports a create-order call that completed but did not
// yield a usable order.
type OrchestrationError struct {
	Reason  string
	OrderID string
	Message string
	Details json.RawMessage
}

func (e *OrchestrationError) Error() string {
	msg := "payment: order " + e.OrderID + " " + e.Reason
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// SessionError reports a session call that failed after the order was
// created and activated. OrderID is the live provider order.
type SessionError struct {
	OrderID string
	Cause   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("payment: open session for order %s: %v", e.OrderID, e.Cause)
}

func (e *SessionError) Unwrap() error { return e.Cause }

// Verification failure categories.
const (
	CategoryNotFound      = "not_found"
	CategoryTransient     = "transient"
	CategoryMisconfigured = "misconfigured"
	CategoryRejected      = "rejected"
)

// VerificationError wraps a gateway failure during status verification.
type VerificationError struct {
	OrderID string
	Cause   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment: verify order %s: %v", e.OrderID, e.Cause)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// StatusCode returns the provider HTTP status behind the failure, or zero.
func (e *VerificationError) StatusCode() int {
	var pErr *ProviderError
	if errors.As(e.Cause, &pErr) {
		return pErr.StatusCode
	}
	return 0
}

// Category tells a caller whether to retry, give up, or escalate.
func (e *VerificationError) Category() string {
	var (
		cErr *ConfigurationError
		tErr *TimeoutError
		pErr *ProviderError
	)
	switch {
	case errors.As(e.Cause, &cErr):
		return CategoryMisconfigured
	case errors.As(e.Cause, &tErr):
		return CategoryTransient
	case errors.As(e.Cause, &pErr):
		if pErr.CredentialsRejected() {
			return CategoryMisconfigured
		}
		if pErr.StatusCode == http.StatusNotFound {
			return CategoryNotFound
		}
		if pErr.Retryable() {
			return CategoryTransient
		}
		return CategoryRejected
	default:
		return CategoryTransient
	}
}

// AuthFailure distinguishes why a webhook was not accepted.
type AuthFailure string

const (
	InvalidSignature AuthFailure = "invalid_signature"
	MalformedPayload AuthFailure = "malformed_payload"
)

// AuthenticationError reports a webhook that failed authentication or
// could not be parsed after authentication.
type AuthenticationError struct {
	Kind AuthFailure
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment: webhook %s: %v", e.Kind, e.Err)
	}
	return "payment: webhook " + string(e.Kind)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Is lets callers match on kind with a bare value, e.g.
// errors.Is(err, &AuthenticationError{Kind: InvalidSignature}).
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Kind == e.Kind
}
