package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/payment-bridge/internal/app"
	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/config"
	"github.com/noah-isme/payment-bridge/internal/health"
	"github.com/noah-isme/payment-bridge/internal/obs"
	"github.com/noah-isme/payment-bridge/internal/payment"
	"github.com/noah-isme/payment-bridge/internal/ratelimit"
	"github.com/noah-isme/payment-bridge/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger("payment-api", cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "payment-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.Obs.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	gateway, err := app.NewGateway(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment gateway")
	}
	auth, err := payment.NewWebhookAuthenticator(cfg.Webhook.Secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise webhook authenticator")
	}

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	redisClient, err := app.NewRedis(startCtx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if redisClient == nil {
		logger.Warn().Msg("REDIS_URL not set: webhook replay guard and idempotency disabled, rate limits are per process")
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	sink, closeSink, err := app.NewResultSink(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise result sink")
	}
	defer func() {
		if err := closeSink(); err != nil {
			logger.Error().Err(err).Msg("close result sink")
		}
	}()

	limiter, err := ratelimit.New(cfg.RateLimit, redisClient, "ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	webhook := payment.Webhook{
		Auth:    auth,
		Sink:    sink,
		MaxBody: cfg.Webhook.MaxBodyBytes,
		Logger:  logger,
	}
	idem := common.Idem{TTL: cfg.IdempotencyTTL, Logger: logger}
	checks := map[string]health.Check{}
	if redisClient != nil {
		webhook.Replay = redisClient
		webhook.ReplayTTL = cfg.Webhook.ReplayTTL
		idem.R = redisClient
		checks["redis"] = redisCheck(redisClient)
	}

	rc := app.RouterConfig{
		Logger:   logger,
		Payments: app.NewPaymentHandler(cfg, gateway, logger),
		Webhook:  webhook,
		Health:   health.Handler{Checks: checks, Timeout: 300 * time.Millisecond},
		Idem:     idem,
		RateLimit: ratelimit.Handler{
			Limiter: limiter,
			Key:     ratelimit.ByClientIP,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_store_error") },
		},
		Tracing:     cfg.Obs.TracingEnabled,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Headers:     security.Headers{Enable: cfg.Security.Headers, EnableHSTS: cfg.Security.HSTS},
		BodyLimit:   cfg.Security.MaxBodyBytes,
		Pprof:       cfg.Obs.PprofEnabled,
		PprofUser:   cfg.Obs.PprofUser,
		PprofPass:   cfg.Obs.PprofPass,
	}
	if cfg.Obs.MetricsEnabled {
		rc.HTTPMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		rc.Metrics = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(rc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("result_sink", cfg.ResultSink).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func redisCheck(client *redis.Client) health.Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
