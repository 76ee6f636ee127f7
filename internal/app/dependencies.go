package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-bridge/internal/config"
	"github.com/noah-isme/payment-bridge/internal/events"
	"github.com/noah-isme/payment-bridge/internal/payment"
	"github.com/noah-isme/payment-bridge/internal/resilience"
)

// NewRedis connects to url and instruments the client. An empty url yields
// a nil client; callers degrade the features that need one.
func NewRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewGateway builds the Cashfree gateway. Missing credentials surface here,
// once, as a *payment.ConfigurationError.
func NewGateway(cfg *config.Config, logger zerolog.Logger) (*payment.Cashfree, error) {
	p := cfg.Provider
	return payment.NewCashfree(payment.CashfreeConfig{
		BaseURL:           p.BaseURL,
		ClientID:          p.ClientID,
		ClientSecret:      p.ClientSecret,
		APIVersion:        p.APIVersion,
		SessionPath:       p.SessionPath,
		Timeout:           p.Timeout,
		StatusMaxAttempts: p.StatusMaxAttempts,
		RetryBase:         p.RetryBase,
		RetryJitter:       p.RetryJitter,
		Breaker: resilience.NewBreaker(p.BreakerMinRequests, p.BreakerFailureRatio, p.BreakerOpenFor).
			WithTarget("cashfree").
			WithLogger(logger),
		HTTPClient: payment.NewHTTPClient(p.MaxIdleConnsPerHost, p.InsecureSkipVerify),
		Logger:     logger,
	})
}

// NewPaymentHandler wires the orchestrator and verifier behind the HTTP
// handler using the configured placement defaults.
func NewPaymentHandler(cfg *config.Config, gw payment.Gateway, logger zerolog.Logger) *payment.Handler {
	d := cfg.Payment
	orch := payment.NewOrchestrator(gw, payment.TimeRandomIDs{}, payment.Defaults{
		Currency: d.Currency,
		Customer: payment.Customer{
			ID:    d.CustomerID,
			Name:  d.CustomerName,
			Phone: d.CustomerPhone,
			Email: d.CustomerEmail,
		},
	})
	orch.InlineSession = d.InlineSession
	orch.Method = payment.UPI(d.UPIChannel)
	orch.Logger = logger
	return &payment.Handler{
		Orchestrator:  orch,
		Verifier:      &payment.Verifier{Gateway: gw, Logger: logger},
		DefaultAmount: d.Amount,
		Logger:        logger,
	}
}

// NewResultSink returns the bus results are published to: the log always,
// plus the durable sink RESULT_SINK names. The returned func releases the
// sink's connections.
func NewResultSink(cfg *config.Config, logger zerolog.Logger) (payment.ResultSink, func() error, error) {
	bus := &events.Bus{
		Sinks:  []events.NamedSink{{Name: config.SinkLog, Sink: payment.LogSink{Logger: logger}}},
		Logger: logger,
	}
	noop := func() error { return nil }
	switch cfg.ResultSink {
	case config.SinkLog:
		return bus, noop, nil
	case config.SinkAsynq:
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse asynq redis uri: %w", err)
		}
		client := asynq.NewClient(opt)
		bus.Sinks = append(bus.Sinks, events.NamedSink{
			Name: config.SinkAsynq,
			Sink: events.AsynqSink{Client: client, Queue: cfg.QueueName, MaxRetry: cfg.QueueMaxRetry},
		})
		return bus, client.Close, nil
	case config.SinkKafka:
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		bus.Sinks = append(bus.Sinks, events.NamedSink{Name: config.SinkKafka, Sink: events.KafkaSink{Writer: writer}})
		return bus, writer.Close, nil
	default:
		return nil, nil, errors.New("unknown result sink " + cfg.ResultSink)
	}
}
