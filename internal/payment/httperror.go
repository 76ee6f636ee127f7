package payment

import (
	"errors"
	"net/http"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/resilience"
)

// httpError maps a payment error to its client-facing status and code.
//
//	400 VALIDATION_FAILED / MALFORMED_PAYLOAD   do not retry the same input
//	401 INVALID_SIGNATURE
//	404 ORDER_NOT_FOUND                         verification only
//	502 PROVIDER_REJECTED / PROVIDER_ERROR      do not retry the same input
//	502 PROVIDER_UNAVAILABLE                    retry later
//	503 PROVIDER_UNAVAILABLE                    retry later, breaker open
//	504 PROVIDER_TIMEOUT                        retry later
//	500 CONFIGURATION_ERROR                     operator action required,
//	                                            including provider 401/403
//
// A failed session call keeps the mapping of its cause and adds the order id
// to the details, since the provider order already exists.
func httpError(err error) *common.AppError {
	var sErr *SessionError
	if errors.As(err, &sErr) {
		appErr := httpError(sErr.Cause)
		appErr.Err = err
		appErr.Details = sessionDetails{OrderID: sErr.OrderID, Provider: appErr.Details}
		return appErr
	}

	var (
		vErr *ValidationError
		cErr *ConfigurationError
		aErr *AuthenticationError
		oErr *OrchestrationError
		tErr *TimeoutError
		pErr *ProviderError
	)
	switch {
	case errors.As(err, &vErr):
		return common.NewAppError("VALIDATION_FAILED", vErr.Error(), http.StatusBadRequest, err).
			WithDetails(map[string]string{"field": vErr.Field, "reason": vErr.Message})
	case errors.As(err, &cErr):
		return common.NewAppError("CONFIGURATION_ERROR", "Server misconfigured", http.StatusInternalServerError, err)
	case errors.As(err, &aErr):
		if aErr.Kind == InvalidSignature {
			return common.NewAppError("INVALID_SIGNATURE", "signature verification failed", http.StatusUnauthorized, err)
		}
		return common.NewAppError("MALFORMED_PAYLOAD", "webhook payload is not valid JSON", http.StatusBadRequest, err)
	case errors.As(err, &oErr):
		appErr := common.NewAppError("PROVIDER_REJECTED", "payment provider did not activate the order", http.StatusBadGateway, err)
		if len(oErr.Details) > 0 {
			appErr.Details = oErr.Details
		}
		return appErr
	case errors.As(err, &tErr):
		return common.NewAppError("PROVIDER_TIMEOUT", "payment provider timed out", http.StatusGatewayTimeout, err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider temporarily unavailable", http.StatusServiceUnavailable, err)
	case errors.As(err, &pErr) && pErr.CredentialsRejected():
		return common.NewAppError("CONFIGURATION_ERROR", "Server misconfigured", http.StatusInternalServerError, err)
	case errors.As(err, &pErr):
		var verr *VerificationError
		if pErr.StatusCode == http.StatusNotFound && errors.As(err, &verr) {
			return common.NewAppError("ORDER_NOT_FOUND", "order not found at provider", http.StatusNotFound, err).WithDetails(pErr.Details())
		}
		if pErr.Retryable() {
			return common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider unavailable", http.StatusBadGateway, err).WithDetails(pErr.Details())
		}
		return common.NewAppError("PROVIDER_ERROR", "payment provider rejected the request", http.StatusBadGateway, err).WithDetails(pErr.Details())
	default:
		return common.NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
	}
}

type sessionDetails struct {
	OrderID  string `json:"order_id"`
	Provider any    `json:"provider,omitempty"`
}
