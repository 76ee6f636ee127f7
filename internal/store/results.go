package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/payment-bridge/internal/payment"
)

// ErrNotFound is returned when no result is stored for an order.
var ErrNotFound = errors.New("store: result not found")

// DBTX is the subset of pgxpool.Pool used here.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Results persists the latest known payment result per order.
type Results struct {
	DB DBTX
}

// A PAID row is final; later notifications for the order are ignored.
const upsertResult = `
INSERT INTO payment_results (order_id, provider_order_id, provider_payment_id, status, provider_status, event_type, event_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (order_id) DO UPDATE SET
    provider_order_id   = COALESCE(NULLIF(EXCLUDED.provider_order_id, ''), payment_results.provider_order_id),
    provider_payment_id = COALESCE(NULLIF(EXCLUDED.provider_payment_id, ''), payment_results.provider_payment_id),
    status              = EXCLUDED.status,
    provider_status     = EXCLUDED.provider_status,
    event_type          = EXCLUDED.event_type,
    event_time          = EXCLUDED.event_time,
    updated_at          = now()
WHERE payment_results.status <> 'PAID'
  AND (payment_results.status, payment_results.provider_status, payment_results.provider_payment_id, payment_results.event_type, payment_results.event_time)
      IS DISTINCT FROM (EXCLUDED.status, EXCLUDED.provider_status, EXCLUDED.provider_payment_id, EXCLUDED.event_type, EXCLUDED.event_time)
RETURNING order_id`

// UpsertResult stores r and reports whether the row changed.
func (s Results) UpsertResult(ctx context.Context, r payment.NormalizedPaymentResult) (bool, error) {
	if s.DB == nil {
		return false, errors.New("store: database not configured")
	}
	var id string
	err := s.DB.QueryRow(ctx, upsertResult,
		r.OrderID, r.ProviderOrderID, r.ProviderPaymentID, string(r.Status),
		r.ProviderStatus, r.EventType, r.EventTime,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: upsert result %s: %w", r.OrderID, err)
	}
	return true, nil
}

const getResult = `
SELECT order_id, provider_order_id, provider_payment_id, status, provider_status, event_type, event_time
FROM payment_results WHERE order_id = $1`

// GetResult returns the stored result for orderID.
func (s Results) GetResult(ctx context.Context, orderID string) (payment.NormalizedPaymentResult, error) {
	var (
		out    payment.NormalizedPaymentResult
		status string
	)
	err := s.DB.QueryRow(ctx, getResult, orderID).Scan(
		&out.OrderID, &out.ProviderOrderID, &out.ProviderPaymentID, &status,
		&out.ProviderStatus, &out.EventType, &out.EventTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.NormalizedPaymentResult{}, ErrNotFound
	}
	if err != nil {
		return payment.NormalizedPaymentResult{}, fmt.Errorf("store: get result %s: %w", orderID, err)
	}
	out.Status = payment.ResultStatus(status)
	return out, nil
}
