package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/payment-bridge/internal/obs"
	"github.com/noah-isme/payment-bridge/internal/resilience"
)

const (
	DefaultAPIVersion  = "2025-01-01"
	DefaultTimeout     = 10 * time.Second
	DefaultSessionPath = "/orders/sessions"

	providerName    = "cashfree"
	maxProviderBody = 1 << 20
)

// CashfreeConfig configures the Cashfree PG gateway.
type CashfreeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	APIVersion   string
	SessionPath  string
	// Timeout bounds every call end to end, retries included.
	Timeout           time.Duration
	StatusMaxAttempts int
	RetryBase         time.Duration
	RetryJitter       float64
	Breaker           *resilience.Breaker
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

func (c CashfreeConfig) validate() error {
	var missing []string
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "CF_BASE")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "CF_API_KEY")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "CF_API_SECRET")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return &ConfigurationError{Reason: "CF_BASE must be an absolute http(s) URL"}
	}
	return nil
}

// Cashfree implements Gateway against the Cashfree PG REST API.
type Cashfree struct {
	cfg     CashfreeConfig
	base    string
	write   resilience.HTTPClient
	read    resilience.HTTPClient
	latency metric.Float64Histogram
}

// NewCashfree validates cfg and builds a gateway. Missing credentials fail
// here, before any request is attempted.
func NewCashfree(cfg CashfreeConfig) (*Cashfree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath
	}
	if !strings.HasPrefix(cfg.SessionPath, "/") {
		cfg.SessionPath = "/" + cfg.SessionPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatusMaxAttempts <= 0 {
		cfg.StatusMaxAttempts = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(32, false)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget(providerName).WithLogger(cfg.Logger)
	}

	latency, err := otel.Meter("payment.Cashfree").Float64Histogram(
		"provider.request.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of Cashfree API calls."),
	)
	if err != nil {
		return nil, fmt.Errorf("provider latency histogram: %w", err)
	}

	write := resilience.HTTPClient{
		Client:      cfg.HTTPClient,
		Breaker:     cfg.Breaker,
		Target:      providerName,
		Logger:      cfg.Logger,
		MaxAttempts: 1,
		Timeout:     cfg.Timeout,
	}
	read := write
	read.MaxAttempts = cfg.StatusMaxAttempts
	read.BaseBackoff = cfg.RetryBase
	read.Jitter = cfg.RetryJitter

	return &Cashfree{
		cfg:     cfg,
		base:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		write:   write,
		read:    read,
		latency: latency,
	}, nil
}

// NewHTTPClient returns a keep-alive client with otel transport
// instrumentation. Deadlines come from request contexts, so the client
// itself has no timeout.
func NewHTTPClient(maxIdlePerHost int, insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if maxIdlePerHost > 0 {
		transport.MaxIdleConnsPerHost = maxIdlePerHost
	}
	transport.IdleConnTimeout = 90 * time.Second
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

type createOrderBody struct {
	OrderID         string      `json:"order_id"`
	OrderAmount     json.Number `json:"order_amount"`
	OrderCurrency   string      `json:"order_currency"`
	CustomerDetails Customer    `json:"customer_details"`
}

type createSessionBody struct {
	PaymentSessionID string        `json:"payment_session_id"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
}

// CreateOrder registers the order with Cashfree. It is sent exactly once and
// detached from the caller's cancellation, so a disconnecting client cannot
// leave the order half created.
func (c *Cashfree) CreateOrder(ctx context.Context, req OrderRequest, orderID string) (ProviderOrder, error) {
	if err := c.ready(); err != nil {
		return ProviderOrder{}, err
	}
	body := createOrderBody{
		OrderID:         orderID,
		OrderAmount:     json.Number(req.Amount.String()),
		OrderCurrency:   req.Currency,
		CustomerDetails: req.Customer,
	}
	headers := http.Header{"x-idempotency-key": []string{orderID}}
	status, raw, err := c.call(context.WithoutCancel(ctx), c.write, "create_order", http.MethodPost, "/orders", body, headers)
	if err != nil {
		return ProviderOrder{}, err
	}
	return decodeOrder("create_order", status, raw)
}

// CreateSession asks Cashfree to start collecting payment for a session.
func (c *Cashfree) CreateSession(ctx context.Context, sessionID string, method PaymentMethod) (ProviderSession, error) {
	if err := c.ready(); err != nil {
		return ProviderSession{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return ProviderSession{}, &ValidationError{Field: "payment_session_id", Message: "is required"}
	}
	if method.UPI == nil {
		method = UPI("")
	}
	body := createSessionBody{PaymentSessionID: sessionID, PaymentMethod: method}
	status, raw, err := c.call(ctx, c.write, "create_session", http.MethodPost, c.cfg.SessionPath, body, nil)
	if err != nil {
		return ProviderSession{}, err
	}
	var out ProviderSession
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProviderSession{}, &ProviderError{Op: "create_session", StatusCode: status, Body: raw, Err: fmt.Errorf("decode response: %w", err)}
	}
	out.Raw = raw
	return out, nil
}

// GetOrderStatus fetches the current order state. It is idempotent and
// retried on 5xx and transport failures within the configured budget.
func (c *Cashfree) GetOrderStatus(ctx context.Context, orderID string) (ProviderOrder, error) {
	if err := c.ready(); err != nil {
		return ProviderOrder{}, err
	}
	if strings.TrimSpace(orderID) == "" {
		return ProviderOrder{}, &ValidationError{Field: "order_id", Message: "is required"}
	}
	status, raw, err := c.call(ctx, c.read, "get_order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return ProviderOrder{}, err
	}
	return decodeOrder("get_order", status, raw)
}

func (c *Cashfree) ready() error {
	if c == nil {
		return &ConfigurationError{Reason: "gateway not initialised"}
	}
	return c.cfg.validate()
}

func (c *Cashfree) call(ctx context.Context, client resilience.HTTPClient, op, method, path string, payload any, extra http.Header) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx, span := otel.Tracer("payment.Cashfree").Start(ctx, "Cashfree."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", providerName),
		attribute.String("http.method", method),
		attribute.String("payment.operation", op),
	)

	start := time.Now()
	outcome := "error"
	statusCode := 0
	defer func() {
		ms := obs.DurationMillis(time.Since(start))
		if obs.ProviderCallDuration != nil {
			obs.ProviderCallDuration.WithLabelValues(op, outcome).Observe(ms)
		}
		c.latency.Record(ctx, ms, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
		logger := obs.Logger(ctx, c.cfg.Logger)
		logger.Debug().
			Str("provider", providerName).
			Str("operation", op).
			Int("status", statusCode).
			Str("outcome", outcome).
			Float64("duration_ms", ms).
			Msg("provider_call")
	}()

	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("payment: encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		outcome = "invalid_request"
		return 0, nil, &ConfigurationError{Reason: fmt.Sprintf("build %s request: %v", op, err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-client-secret", c.cfg.ClientSecret)
	req.Header.Set("x-api-version", c.cfg.APIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extra {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		outcome, err = c.transportError(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return 0, nil, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", statusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		outcome, err = c.transportError(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return statusCode, nil, err
	}
	if statusCode < 200 || statusCode > 299 {
		outcome = fmt.Sprintf("http_%dxx", statusCode/100)
		span.SetStatus(codes.Error, outcome)
		return statusCode, raw, &ProviderError{Op: op, StatusCode: statusCode, Body: raw}
	}
	outcome = "ok"
	return statusCode, raw, nil
}

func (c *Cashfree) transportError(op string, err error) (string, error) {
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return "circuit_open", &ProviderError{Op: op, Err: err}
	}
	if isTimeout(err) {
		return "timeout", &TimeoutError{Op: op, Timeout: c.cfg.Timeout, Err: err}
	}
	return "transport", &ProviderError{Op: op, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decodeOrder(op string, status int, raw []byte) (ProviderOrder, error) {
	var out ProviderOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProviderOrder{}, &ProviderError{Op: op, StatusCode: status, Body: raw, Err: fmt.Errorf("decode response: %w", err)}
	}
	out.Raw = raw
	return out, nil
}
