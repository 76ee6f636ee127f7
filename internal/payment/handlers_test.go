package payment_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/payment"
)

const testWebhookSecret = "whsec_test"

type fakeProvider struct {
	orderStatus   string
	createStatus  int
	sessionStatus int
	statusCode    int
	statusBody    string
	delay         time.Duration

	creates  atomic.Int32
	sessions atomic.Int32
	lastBody atomic.Value
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/pg/orders/sessions":
		p.sessions.Add(1)
		if p.sessionStatus != 0 {
			w.WriteHeader(p.sessionStatus)
			_, _ = io.WriteString(w, `{"message":"bad method","code":"request_failed"}`)
			return
		}
		_, _ = io.WriteString(w, `{"action":"link","payment_method":"upi","channel":"link","data":{"payload":{"default":"upi://pay"}}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/pg/orders":
		p.creates.Add(1)
		body, _ := io.ReadAll(r.Body)
		p.lastBody.Store(string(body))
		if p.createStatus != 0 {
			w.WriteHeader(p.createStatus)
			_, _ = io.WriteString(w, `{"message":"authentication Failed","code":"request_failed","type":"authentication_error"}`)
			return
		}
		var in struct {
			OrderID string `json:"order_id"`
		}
		_ = json.Unmarshal(body, &in)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id":           in.OrderID,
			"cf_order_id":        "2149460581",
			"order_status":       p.orderStatus,
			"payment_session_id": "session_xyz",
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/pg/orders/"):
		if p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-r.Context().Done():
				return
			}
		}
		if p.statusCode != 0 {
			w.WriteHeader(p.statusCode)
		}
		_, _ = io.WriteString(w, p.statusBody)
	default:
		http.Error(w, "unexpected route", http.StatusTeapot)
	}
}

type harness struct {
	router   http.Handler
	provider *fakeProvider
	sink     *recordingSink
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T, provider *fakeProvider) *harness {
	t.Helper()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	gw := newCashfree(t, srv.URL, func(c *payment.CashfreeConfig) { c.Timeout = 200 * time.Millisecond })
	orch := payment.NewOrchestrator(gw, payment.IDFunc(func() string { return "ORD_test" }), testDefaults)
	orch.InlineSession = true

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	auth, err := payment.NewWebhookAuthenticator(testWebhookSecret)
	require.NoError(t, err)
	sink := &recordingSink{}

	h := &payment.Handler{
		Orchestrator:  orch,
		Verifier:      &payment.Verifier{Gateway: gw},
		DefaultAmount: decimal.NewFromInt(1000),
	}
	wh := payment.Webhook{Auth: auth, Sink: sink, Replay: rdb, ReplayTTL: time.Hour, MaxBody: 1 << 16}

	r := chi.NewRouter()
	r.Post("/api/v1/payments", h.PlaceOrder)
	r.Post("/api/v1/payments/verify", h.Verify)
	r.Get("/api/v1/payments/{orderId}", h.Status)
	r.HandleFunc("/api/v1/webhooks/cashfree", wh.Handle)

	return &harness{router: r, provider: provider, sink: sink, redis: mr}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func signedHeaders(body []byte, ts string) map[string]string {
	return map[string]string{
		payment.HeaderWebhookTimestamp: ts,
		payment.HeaderWebhookSignature: payment.ComputeSignature([]byte(testWebhookSecret), ts, body),
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) common.ErrorBody {
	t.Helper()
	var body common.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const paidEvent = `{"data":{"order":{"order_id":"ORD_test","order_amount":1000,"order_currency":"INR","cf_order_id":2149460581,"order_status":"PAID"},"payment":{"cf_payment_id":5114910452,"payment_status":"SUCCESS"}},"event_time":"2024-01-01T10:00:00+05:30","type":"PAYMENT_SUCCESS_WEBHOOK"}`

func TestPlaceOrderHappyPath(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "ACTIVE"})

	rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(`{"amount":1000,"currency":"INR","customer_id":"CUST001","customer_phone":"9999999999"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OrderID          string          `json:"order_id"`
		PaymentSessionID string          `json:"payment_session_id"`
		CFOrderID        string          `json:"cf_order_id"`
		OrderStatus      string          `json:"order_status"`
		ProviderResponse json.RawMessage `json:"provider_response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ORD_test", resp.OrderID)
	require.Equal(t, "session_xyz", resp.PaymentSessionID)
	require.Equal(t, "2149460581", resp.CFOrderID)
	require.Equal(t, "ACTIVE", resp.OrderStatus)
	require.Contains(t, string(resp.ProviderResponse), "upi://pay")
	require.EqualValues(t, 1, h.provider.creates.Load())
	require.EqualValues(t, 1, h.provider.sessions.Load())
}

func TestPlaceOrderEmptyBodyUsesDefaults(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "ACTIVE"})

	rec := h.do(t, http.MethodPost, "/api/v1/payments", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sent struct {
		OrderAmount   json.Number `json:"order_amount"`
		OrderCurrency string      `json:"order_currency"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.provider.lastBody.Load().(string)), &sent))
	require.Equal(t, json.Number("1000"), sent.OrderAmount)
	require.Equal(t, "INR", sent.OrderCurrency)
}

func TestPlaceOrderNotActiveIsRejected(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "FAILED"})

	rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(`{"amount":1000}`), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PROVIDER_REJECTED", body.Code)
	require.Equal(t, "FAILED", body.Details["order_status"])
	require.EqualValues(t, 0, h.provider.sessions.Load())
}

func TestPlaceOrderValidationNeverReachesProvider(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "ACTIVE"})

	cases := map[string]string{
		"zero amount":      `{"amount":0}`,
		"negative amount":  `{"amount":-5}`,
		"fractional paise": `{"amount":10.005}`,
		"bad currency":     `{"amount":10,"currency":"XX"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(body), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Code)
		})
	}
	require.EqualValues(t, 0, h.provider.creates.Load())
}

func TestPlaceOrderRejectsNonObjectBody(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "ACTIVE"})

	rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(`[1,2]`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", decodeError(t, rec).Code)
}

func TestPlaceOrderSessionFailureReturnsOrderID(t *testing.T) {
	h := newHarness(t, &fakeProvider{orderStatus: "ACTIVE", sessionStatus: http.StatusBadRequest})

	rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(`{"amount":1000}`), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code    string `json:"code"`
		Details struct {
			OrderID  string         `json:"order_id"`
			Provider map[string]any `json:"provider"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PROVIDER_ERROR", body.Code)
	require.Equal(t, "ORD_test", body.Details.OrderID)
	require.Equal(t, "bad method", body.Details.Provider["message"])
	require.EqualValues(t, 1, h.provider.creates.Load())
	require.EqualValues(t, 1, h.provider.sessions.Load())
}

func TestPlaceOrderRejectedCredentialsAreMisconfiguration(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		h := newHarness(t, &fakeProvider{createStatus: status})

		rec := h.do(t, http.MethodPost, "/api/v1/payments", []byte(`{"amount":1000}`), nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code, "provider status %d", status)
		require.Equal(t, "CONFIGURATION_ERROR", decodeError(t, rec).Code)
		require.EqualValues(t, 0, h.provider.sessions.Load())
	}
}

func TestPaidWebhookIsForwarded(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	body := []byte(paidEvent)

	rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, signedHeaders(body, "1704083400"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"received":true}`, rec.Body.String())

	got := h.sink.all()
	require.Len(t, got, 1)
	require.Equal(t, payment.NormalizedPaymentResult{
		OrderID:           "ORD_test",
		ProviderOrderID:   "2149460581",
		ProviderPaymentID: "5114910452",
		Status:            payment.ResultPaid,
		ProviderStatus:    "PAID",
		EventType:         "PAYMENT_SUCCESS_WEBHOOK",
		EventTime:         "2024-01-01T10:00:00+05:30",
	}, got[0])
}

func TestWebhookDuplicateIsAcknowledgedOnce(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	body := []byte(paidEvent)
	headers := signedHeaders(body, "1704083400")

	first := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.JSONEq(t, `{"received":true,"duplicate":true}`, second.Body.String())
	require.Len(t, h.sink.all(), 1)
}

func TestWebhookRejections(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	body := []byte(paidEvent)

	t.Run("tampered body", func(t *testing.T) {
		headers := signedHeaders(body, "1704083400")
		tampered := bytes.Replace(body, []byte(`"PAID"`), []byte(`"PAID" `), 1)
		rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", tampered, headers)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "INVALID_SIGNATURE", decodeError(t, rec).Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, map[string]string{payment.HeaderWebhookTimestamp: "1"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("signed but not json", func(t *testing.T) {
		raw := []byte(`not json`)
		rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", raw, signedHeaders(raw, "1"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "MALFORMED_PAYLOAD", decodeError(t, rec).Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/webhooks/cashfree", nil, nil)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		require.Contains(t, rec.Header().Get("Allow"), http.MethodPost)
	})

	t.Run("oversized body", func(t *testing.T) {
		raw := bytes.Repeat([]byte("a"), 1<<17)
		rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", raw, signedHeaders(raw, "1"))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	require.Empty(t, h.sink.all())
}

func TestWebhookSinkFailureReleasesReplayKey(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	body := []byte(paidEvent)
	headers := signedHeaders(body, "1704083400")

	h.sink.err = errors.New("queue down")
	rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, headers)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "RESULT_FORWARD_FAILED", decodeError(t, rec).Code)
	require.Empty(t, h.redis.Keys())

	h.sink.err = nil
	rec = h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, h.sink.all(), 1)
}

func TestWebhookReplayStoreDown(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.redis.Close()
	body := []byte(paidEvent)

	rec := h.do(t, http.MethodPost, "/api/v1/webhooks/cashfree", body, signedHeaders(body, "1"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "REPLAY_STORE_ERROR", decodeError(t, rec).Code)
	require.Empty(t, h.sink.all())
}

func TestVerifyRelaysProviderPayload(t *testing.T) {
	payload := `{"order_id":"ORD_test","cf_order_id":2149460581,"order_status":"PAID","order_amount":1000}`
	h := newHarness(t, &fakeProvider{statusBody: payload})

	rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", []byte(`{"order_id":"ORD_test"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, payload, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/payments/ORD_test", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"order_id":"ORD_test","cf_order_id":"2149460581","order_status":"PAID","terminal":true}`, rec.Body.String())
}

func TestVerifyFailures(t *testing.T) {
	t.Run("missing order id", func(t *testing.T) {
		h := newHarness(t, &fakeProvider{})
		rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Code)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t, &fakeProvider{statusCode: http.StatusNotFound, statusBody: `{"message":"order not found","code":"order_not_found"}`})
		rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", []byte(`{"order_id":"ORD_missing"}`), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeError(t, rec)
		require.Equal(t, "ORDER_NOT_FOUND", body.Code)
		require.NotNil(t, body.Details)
	})

	t.Run("provider too slow", func(t *testing.T) {
		h := newHarness(t, &fakeProvider{delay: time.Second})
		rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", []byte(`{"order_id":"ORD_slow"}`), nil)
		require.Equal(t, http.StatusGatewayTimeout, rec.Code)
		require.Equal(t, "PROVIDER_TIMEOUT", decodeError(t, rec).Code)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		h := newHarness(t, &fakeProvider{statusCode: http.StatusUnauthorized, statusBody: `{"message":"authentication Failed"}`})
		rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", []byte(`{"order_id":"ORD_x"}`), nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "CONFIGURATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("not configured", func(t *testing.T) {
		r := chi.NewRouter()
		r.Post("/verify", (&payment.Handler{}).Verify)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{"order_id":"x"}`)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "CONFIGURATION_ERROR", decodeError(t, rec).Code)
	})
}

func TestVerifyUnavailableProviderIsRetryableGateway(t *testing.T) {
	h := newHarness(t, &fakeProvider{statusCode: http.StatusServiceUnavailable, statusBody: `{"message":"maintenance"}`})

	rec := h.do(t, http.MethodPost, "/api/v1/payments/verify", []byte(`{"order_id":"ORD_x"}`), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "PROVIDER_UNAVAILABLE", decodeError(t, rec).Code)
}
