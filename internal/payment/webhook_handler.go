package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/obs"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Webhook handles provider payment notifications. Nothing in the body is
// trusted or stored before the signature checks out.
type Webhook struct {
	Auth      *WebhookAuthenticator
	Sink      ResultSink
	Replay    replayStore
	ReplayTTL time.Duration
	MaxBody   int64
	Logger    zerolog.Logger
}

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Handle authenticates one notification and forwards the normalised result.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "Webhook.Handle")
	defer span.End()
	logger := obs.Logger(ctx, h.Logger)

	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.webhook.result", outcome))
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(providerName, outcome).Inc()
		}
	}()

	if r.Method != http.MethodPost {
		outcome = "method_not_allowed"
		w.Header().Set("Allow", "POST, OPTIONS")
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if h.Auth == nil {
		outcome = "misconfigured"
		common.WriteError(w, httpError(&ConfigurationError{Missing: []string{"CF_WEBHOOK_SECRET"}}))
		return
	}

	body := r.Body
	if h.MaxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBody)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			outcome = "too_large"
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		outcome = "unreadable"
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	timestamp := r.Header.Get(HeaderWebhookTimestamp)
	result, err := h.Auth.Authenticate(raw, timestamp, r.Header.Get(HeaderWebhookSignature))
	if err != nil {
		appErr := httpError(err)
		switch {
		case IsAuthFailure(err, InvalidSignature):
			outcome = "invalid_signature"
		case IsAuthFailure(err, MalformedPayload):
			outcome = "malformed"
		}
		logger.Warn().Err(err).Str("code", appErr.Code).Msg("webhook_rejected")
		common.WriteError(w, appErr)
		return
	}
	span.SetAttributes(
		attribute.String("order.id", result.OrderID),
		attribute.String("payment.status", string(result.Status)),
	)

	key := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		key = "wh:" + providerName + ":" + common.Sha256Hex(timestamp+"\n"+string(raw))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			logger.Error().Err(err).Msg("webhook_replay_store_error")
			common.JSONError(w, http.StatusServiceUnavailable, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !fresh {
			outcome = "duplicate"
			logger.Info().Str("order_id", result.OrderID).Msg("webhook_duplicate")
			common.JSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true})
			return
		}
	}

	if h.Sink != nil {
		if err := h.Sink.Publish(ctx, result); err != nil {
			outcome = "forward_failed"
			if key != "" {
				// let the provider's retry through
				_ = h.Replay.Del(context.WithoutCancel(ctx), key).Err()
			}
			logger.Error().Err(err).Str("order_id", result.OrderID).Msg("webhook_forward_failed")
			common.JSONError(w, http.StatusServiceUnavailable, "RESULT_FORWARD_FAILED", "unable to record payment result", nil)
			return
		}
	}

	outcome = "accepted"
	logger.Info().
		Str("order_id", result.OrderID).
		Str("status", string(result.Status)).
		Str("event_type", result.EventType).
		Msg("webhook_accepted")
	common.JSON(w, http.StatusOK, webhookAck{Received: true})
}
