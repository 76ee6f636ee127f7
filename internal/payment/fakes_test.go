package payment_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-bridge/internal/payment"
)

type fakeGateway struct {
	mu sync.Mutex

	order      payment.ProviderOrder
	createErr  error
	session    payment.ProviderSession
	sessionErr error
	status     payment.ProviderOrder
	statusErr  error

	createCalls  int
	sessionCalls int
	statusCalls  int
	lastOrderID  string
	lastReq      payment.OrderRequest
	lastSession  string
	lastMethod   payment.PaymentMethod
}

func (f *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest, orderID string) (payment.ProviderOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastReq = req
	f.lastOrderID = orderID
	return f.order, f.createErr
}

func (f *fakeGateway) CreateSession(_ context.Context, sessionID string, method payment.PaymentMethod) (payment.ProviderSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCalls++
	f.lastSession = sessionID
	f.lastMethod = method
	return f.session, f.sessionErr
}

func (f *fakeGateway) GetOrderStatus(_ context.Context, orderID string) (payment.ProviderOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.lastOrderID = orderID
	return f.status, f.statusErr
}

func providerOrder(t *testing.T, raw string) payment.ProviderOrder {
	t.Helper()
	var o payment.ProviderOrder
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	o.Raw = json.RawMessage(raw)
	return o
}

func providerSession(t *testing.T, raw string) payment.ProviderSession {
	t.Helper()
	var s payment.ProviderSession
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	s.Raw = json.RawMessage(raw)
	return s
}

var testDefaults = payment.Defaults{
	Currency: "INR",
	Customer: payment.Customer{ID: "CUST001", Name: "John Doe", Phone: "9999999999", Email: "customer@example.com"},
}

type recordingSink struct {
	mu      sync.Mutex
	results []payment.NormalizedPaymentResult
	err     error
}

func (s *recordingSink) Publish(_ context.Context, r payment.NormalizedPaymentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, r)
	return nil
}

func (s *recordingSink) all() []payment.NormalizedPaymentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payment.NormalizedPaymentResult(nil), s.results...)
}
