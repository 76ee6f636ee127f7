package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/obs"
)

// Handler exposes HTTP endpoints for order placement and verification.
type Handler struct {
	Orchestrator *Orchestrator
	Verifier     *Verifier
	// DefaultAmount is charged when the request omits amount.
	DefaultAmount decimal.Decimal
	Logger        zerolog.Logger
}

type placeOrderReq struct {
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
	CustomerID    string           `json:"customer_id"`
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone"`
	CustomerEmail string           `json:"customer_email"`
}

type placeOrderResp struct {
	OrderID          string          `json:"order_id"`
	PaymentSessionID string          `json:"payment_session_id"`
	CFOrderID        string          `json:"cf_order_id,omitempty"`
	OrderStatus      OrderStatus     `json:"order_status"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
}

type verifyReq struct {
	OrderID string `json:"order_id"`
}

type statusResp struct {
	OrderID     string      `json:"order_id"`
	CFOrderID   string      `json:"cf_order_id,omitempty"`
	OrderStatus OrderStatus `json:"order_status"`
	Terminal    bool        `json:"terminal"`
}

// PlaceOrder creates a provider order and returns its checkout session.
// An empty body is accepted and placed with server defaults.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", "Server misconfigured", nil)
		return
	}
	var req placeOrderReq
	if err := decodeOptional(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "request body must be a JSON object", nil)
		return
	}
	amount := h.DefaultAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	res, err := h.Orchestrator.PlaceOrder(r.Context(), OrderRequest{
		Amount:   amount,
		Currency: req.Currency,
		Customer: Customer{
			ID:    req.CustomerID,
			Name:  req.CustomerName,
			Phone: req.CustomerPhone,
			Email: req.CustomerEmail,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, placeOrderResp{
		OrderID:          res.OrderID,
		PaymentSessionID: res.SessionID,
		CFOrderID:        res.ProviderOrderID,
		OrderStatus:      res.OrderStatus,
		ProviderResponse: res.ProviderPayload,
	})
}

// Verify relays the provider's current view of {order_id} unchanged.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Verifier == nil {
		common.JSONError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", "Server misconfigured", nil)
		return
	}
	var req verifyReq
	if err := decodeOptional(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "request body must be a JSON object", nil)
		return
	}
	res, err := h.Verifier.Verify(r.Context(), req.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSONRaw(w, http.StatusOK, res.Payload)
}

// Status reports the normalised provider status for the order in the path.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Verifier == nil {
		common.JSONError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", "Server misconfigured", nil)
		return
	}
	res, err := h.Verifier.Verify(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, statusResp{
		OrderID:     res.OrderID,
		CFOrderID:   res.ProviderOrderID,
		OrderStatus: res.Status,
		Terminal:    res.Terminal,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := httpError(err)
	logger := obs.Logger(r.Context(), h.Logger)
	evt := logger.Warn()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	evt.Err(err).Str("code", appErr.Code).Msg("payment_request_failed")
	common.WriteError(w, appErr)
}

// decodeOptional decodes a JSON object body, treating an empty body as {}.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
