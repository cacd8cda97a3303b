package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":             "postgres://localhost/payflow",
		"REDIS_URL":                "redis://localhost:6379/0",
		"GATEWAY_MODE":             "",
		"JOB_BACKEND":              "",
		"PAYMENT_STORE":            "",
		"FRAUD_PREVENTION_ENABLED": "",
		"FRAUD_TOKEN_SECRET":       "",
		"CHECKOUT_RATE_LIMIT":      "",
		"MIN_AMOUNT_CACHE_TTL":     "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "sandbox", cfg.Gateway.Mode)
	require.Equal(t, "queue", cfg.JobBackend)
	require.Equal(t, "postgres", cfg.PaymentStore)
	require.Equal(t, "5-M", cfg.CheckoutRateLimit)
	require.Equal(t, 24*time.Hour, cfg.MinAmountCacheTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	env := baseEnv()
	env["JOB_BACKEND"] = "kafka"
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["PAYMENT_STORE"] = "mongo"
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRequiresFraudSecretWhenEnabled(t *testing.T) {
	env := baseEnv()
	env["FRAUD_PREVENTION_ENABLED"] = "true"
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env["FRAUD_TOKEN_SECRET"] = "s3cret"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.FraudEnabled)
}

func TestLoadRequiresGatewayCredentialsInHTTPMode(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_MODE"] = "http"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadObservabilityDefaults(t *testing.T) {
	env := baseEnv()
	env["OBS_ENABLE_PROMETHEUS"] = ""
	env["WEBHOOK_SIGNATURE_TOLERANCE"] = ""
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.MetricsEnabled)
	require.Equal(t, "payflow", cfg.MetricsNamespace)
	require.Equal(t, 5*time.Minute, cfg.WebhookTolerance)

	env["OBS_ENABLE_PROMETHEUS"] = "off"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.False(t, cfg.MetricsEnabled)
}

func TestLoadRequiresWebhookSecretInProduction(t *testing.T) {
	env := baseEnv()
	env["APP_ENV"] = "production"
	env["WEBHOOK_SECRET"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env["WEBHOOK_SECRET"] = "whsec"
	_, err = config.LoadForTests(env)
	require.NoError(t, err)
}
