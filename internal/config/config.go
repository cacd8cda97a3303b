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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string
	LogFormat          string
	LogLevel           string
	AdminToken         string

	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBucketsMS string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	DBMaxConns       int
	PprofEnabled     bool
	WorkerAdminAddr  string

	FraudEnabled     bool
	FraudTokenSecret string
	FraudTokenTTL    time.Duration

	CheckoutRateLimit string
	SessionTTL        time.Duration
	MinAmountCacheTTL time.Duration
	ManualCapture     bool

	Gateway GatewayConfig

	JobBackend       string
	QueuePrefix      string
	QueueConcurrency int
	QueueVisibility  time.Duration
	QueueMaxAttempts int
	QueueRetryBase   time.Duration
	QueueRetryJitter float64
	AsynqQueue       string
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	LockMaxWait      time.Duration

	PaymentStore  string
	DynamoTable   string
	AWSRegion     string
	AWSEndpoint   string
	DBAutoMigrate bool

	IdempotencyTTL    time.Duration
	WebhookSecret     string
	WebhookReplayTTL  time.Duration
	WebhookTolerance  time.Duration
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	HealthDBTimeout    time.Duration
	HealthRedisTimeout time.Duration
}

// GatewayConfig configures the payment processor client.
type GatewayConfig struct {
	Mode           string
	BaseURL        string
	SecretKey      string
	Timeout        time.Duration
	CircuitMinReq  int
	CircuitRatio   float64
	CircuitOpenFor time.Duration
	RetryBase      time.Duration
	RetryMax       int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		AdminToken:         strings.TrimSpace(k.String("ADMIN_TOKEN")),

		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "payflow"),
		MetricsBucketsMS: k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     k.String("OBS_OTLP_ENDPOINT"),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		DBMaxConns:       parseInt(k.String("DB_MAX_OPEN_CONNS"), 10),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF")),
		WorkerAdminAddr:  valueOrDefault(k.String("WORKER_ADMIN_ADDR"), ":9091"),

		FraudEnabled:     parseBool(k.String("FRAUD_PREVENTION_ENABLED")),
		FraudTokenSecret: k.String("FRAUD_TOKEN_SECRET"),
		FraudTokenTTL:    parseDuration(k.String("FRAUD_TOKEN_TTL"), "30m"),

		CheckoutRateLimit: valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "5-M"),
		SessionTTL:        parseDuration(k.String("SESSION_TTL"), "48h"),
		MinAmountCacheTTL: parseDuration(k.String("MIN_AMOUNT_CACHE_TTL"), "24h"),
		ManualCapture:     parseBool(k.String("PAYMENT_MANUAL_CAPTURE")),

		Gateway: GatewayConfig{
			Mode:           strings.ToLower(valueOrDefault(k.String("GATEWAY_MODE"), "sandbox")),
			BaseURL:        strings.TrimRight(k.String("GATEWAY_BASE_URL"), "/"),
			SecretKey:      k.String("GATEWAY_SECRET_KEY"),
			Timeout:        parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
			CircuitMinReq:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			CircuitRatio:   parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			CircuitOpenFor: parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
			RetryBase:      parseDuration(k.String("RETRY_BASE"), "200ms"),
			RetryMax:       parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		},

		JobBackend:       strings.ToLower(valueOrDefault(k.String("JOB_BACKEND"), "queue")),
		QueuePrefix:      valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "payflow:jobs"),
		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibility:  parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "60s"),
		QueueMaxAttempts: parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),
		QueueRetryBase:   parseDuration(k.String("QUEUE_BACKOFF_BASE"), "2s"),
		QueueRetryJitter: parseFloat(k.String("QUEUE_BACKOFF_JITTER"), 0.2),
		AsynqQueue:       valueOrDefault(k.String("ASYNQ_QUEUE"), "payments"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		LockMaxWait:      parseDuration(k.String("LOCK_MAX_WAIT"), "10s"),

		PaymentStore:  strings.ToLower(valueOrDefault(k.String("PAYMENT_STORE"), "postgres")),
		DynamoTable:   valueOrDefault(k.String("DYNAMODB_TABLE"), "payflow_payments"),
		AWSRegion:     valueOrDefault(k.String("AWS_REGION"), "us-east-1"),
		AWSEndpoint:   strings.TrimSpace(k.String("AWS_ENDPOINT")),
		DBAutoMigrate: parseBool(k.String("DB_AUTO_MIGRATE")),

		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookSecret:     k.String("WEBHOOK_SECRET"),
		WebhookReplayTTL:  parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		WebhookTolerance:  parseDuration(k.String("WEBHOOK_SIGNATURE_TOLERANCE"), "5m"),
		WebhookRateLimit:  parseInt(k.String("WEBHOOK_RATE_LIMIT"), 120),
		WebhookRateWindow: parseDuration(k.String("WEBHOOK_RATE_WINDOW"), "1m"),

		HealthDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
		HealthRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.FraudEnabled && cfg.FraudTokenSecret == "" {
		return nil, errors.New("FRAUD_TOKEN_SECRET is required when fraud prevention is enabled")
	}
	switch cfg.Gateway.Mode {
	case "sandbox":
	case "http":
		if cfg.Gateway.BaseURL == "" || cfg.Gateway.SecretKey == "" {
			return nil, errors.New("GATEWAY_BASE_URL and GATEWAY_SECRET_KEY are required in http mode")
		}
	default:
		return nil, fmt.Errorf("unsupported GATEWAY_MODE %q", cfg.Gateway.Mode)
	}
	switch cfg.JobBackend {
	case "queue", "asynq":
	default:
		return nil, fmt.Errorf("unsupported JOB_BACKEND %q", cfg.JobBackend)
	}
	if cfg.IsProduction() && cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required in production")
	}
	switch cfg.PaymentStore {
	case "postgres", "dynamodb", "memory":
	default:
		return nil, fmt.Errorf("unsupported PAYMENT_STORE %q", cfg.PaymentStore)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
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
