package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Result sink kinds accepted by RESULT_SINK.
const (
	SinkLog   = "log"
	SinkAsynq = "asynq"
	SinkKafka = "kafka"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	Provider ProviderConfig
	Webhook  WebhookConfig
	Payment  PaymentDefaults

	RateLimit         string
	IdempotencyTTL    time.Duration
	ResultSink        string
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroupID      string
	QueueName         string
	QueueMaxRetry     int
	WorkerConcurrency int

	Security SecurityConfig
	Obs      ObsConfig
}

// SecurityConfig controls response hardening and request size limits.
type SecurityConfig struct {
	Headers      bool
	HSTS         bool
	MaxBodyBytes int64
}

// ProviderConfig describes how to reach the payment gateway.
type ProviderConfig struct {
	BaseURL             string
	ClientID            string
	ClientSecret        string
	APIVersion          string
	SessionPath         string
	Timeout             time.Duration
	StatusMaxAttempts   int
	RetryBase           time.Duration
	RetryJitter         float64
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	MaxIdleConnsPerHost int
	InsecureSkipVerify  bool
}

// WebhookConfig configures inbound notification handling.
type WebhookConfig struct {
	Secret       string
	ReplayTTL    time.Duration
	MaxBodyBytes int64
}

// PaymentDefaults are applied to placement requests that omit fields.
type PaymentDefaults struct {
	InlineSession bool
	UPIChannel    string
	Amount        decimal.Decimal
	Currency      string
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Load reads configuration from environment variables and optional .env files.
// Provider credentials are not required here; the gateway constructor
// rejects an incomplete provider configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	apiSecret := strings.TrimSpace(k.String("CF_API_SECRET"))
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(valueOrDefault(k.String("CORS_ALLOWED_ORIGINS"), "https://lockify.co.in")),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		Provider: ProviderConfig{
			BaseURL:             strings.TrimSpace(k.String("CF_BASE")),
			ClientID:            strings.TrimSpace(k.String("CF_API_KEY")),
			ClientSecret:        apiSecret,
			APIVersion:          valueOrDefault(k.String("CF_API_VERSION"), "2025-01-01"),
			SessionPath:         valueOrDefault(k.String("CF_SESSION_PATH"), "/orders/sessions"),
			Timeout:             parseDuration(k.String("CF_TIMEOUT"), "10s"),
			StatusMaxAttempts:   parseInt(k.String("CF_STATUS_MAX_ATTEMPTS"), 2),
			RetryBase:           parseDuration(k.String("CF_RETRY_BASE"), "200ms"),
			RetryJitter:         parseFloat(k.String("CF_RETRY_JITTER"), 0.2),
			BreakerMinRequests:  parseInt(k.String("CF_BREAKER_MIN_REQUESTS"), 10),
			BreakerFailureRatio: parseFloat(k.String("CF_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("CF_BREAKER_OPEN_FOR"), "30s"),
			MaxIdleConnsPerHost: parseInt(k.String("CF_MAX_IDLE_CONNS_PER_HOST"), 32),
			InsecureSkipVerify:  parseBool(k.String("CF_INSECURE_SKIP_VERIFY")),
		},
		Webhook: WebhookConfig{
			Secret:       valueOrDefault(k.String("CF_WEBHOOK_SECRET"), apiSecret),
			ReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
			MaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		},
		Payment: PaymentDefaults{
			InlineSession: parseBoolDefault(k.String("PAYMENT_INLINE_SESSION"), true),
			UPIChannel:    valueOrDefault(k.String("PAYMENT_UPI_CHANNEL"), "link"),
			Currency:      strings.ToUpper(valueOrDefault(k.String("PAYMENT_DEFAULT_CURRENCY"), "INR")),
			CustomerID:    valueOrDefault(k.String("PAYMENT_DEFAULT_CUSTOMER_ID"), "CUST001"),
			CustomerName:  valueOrDefault(k.String("PAYMENT_DEFAULT_CUSTOMER_NAME"), "John Doe"),
			CustomerPhone: valueOrDefault(k.String("PAYMENT_DEFAULT_CUSTOMER_PHONE"), "9999999999"),
			CustomerEmail: valueOrDefault(k.String("PAYMENT_DEFAULT_CUSTOMER_EMAIL"), "customer@example.com"),
		},
		RateLimit:         valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ResultSink:        strings.ToLower(valueOrDefault(k.String("RESULT_SINK"), SinkLog)),
		KafkaBrokers:      splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:        valueOrDefault(k.String("KAFKA_TOPIC"), "payment.result"),
		KafkaGroupID:      valueOrDefault(k.String("KAFKA_GROUP_ID"), "payment-bridge-worker"),
		QueueName:         valueOrDefault(k.String("QUEUE_NAME"), "payments"),
		QueueMaxRetry:     parseInt(k.String("QUEUE_MAX_RETRY"), 10),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		Security: SecurityConfig{
			Headers:      parseBoolDefault(k.String("SECURITY_HEADERS"), true),
			HSTS:         parseBool(k.String("SECURITY_HSTS")),
			MaxBodyBytes: int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "payment_bridge"),
			MetricsBuckets:   k.String("OBS_HTTP_BUCKETS_MS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING")),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF")),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		},
	}

	amount, err := decimal.NewFromString(valueOrDefault(k.String("PAYMENT_DEFAULT_AMOUNT"), "1000"))
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_DEFAULT_AMOUNT: %w", err)
	}
	cfg.Payment.Amount = amount

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ResultSink {
	case SinkLog:
	case SinkAsynq:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when RESULT_SINK=asynq")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when RESULT_SINK=kafka")
		}
	default:
		return fmt.Errorf("RESULT_SINK must be one of log, asynq, kafka; got %q", c.ResultSink)
	}
	if c.Provider.Timeout <= 0 {
		return errors.New("CF_TIMEOUT must be positive")
	}
	return nil
}

// RequireWorker reports the settings the result worker cannot run without.
func (c *Config) RequireWorker() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required for the worker", strings.Join(missing, ", "))
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// LoadForTests sets the given variables, loads, and restores the previous
// environment. An empty value unsets the variable for the duration.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func splitAndTrim(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(valueOrDefault(value, fallback))
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
