package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/pharmacy")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Read("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, 15*time.Second, cfg.Mpesa.Timeout)
	assert.Equal(t, 3, cfg.Mpesa.MaxRetries)
	assert.Equal(t, 3*time.Minute, cfg.Worker.ReconcileStaleAfter)
	assert.Equal(t, 5, cfg.Worker.ReconcileRejections)
	assert.Equal(t, 5, cfg.Worker.CallbackMaxAttempts)
	assert.Equal(t, "pharmacy.events", cfg.MQ.Exchange)
	assert.False(t, cfg.IsProduction())
}

func TestReadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/pharmacy")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("MPESA_BASE_URL", "http://daraja.local/")
	t.Setenv("MPESA_PASSKEY", "  pk  ")
	t.Setenv("RECONCILE_INTERVAL", "30s")

	cfg, err := Read("")
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "http://daraja.local", cfg.Mpesa.BaseURL)
	assert.Equal(t, "pk", cfg.Mpesa.Passkey)
	assert.Equal(t, 30*time.Second, cfg.Worker.ReconcileEvery)
}

func TestReadRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := Read("")
	assert.EqualError(t, err, "DB_DSN is required")

	t.Setenv("DB_DSN", "postgres://localhost/pharmacy")
	t.Setenv("JWT_SECRET", "")
	_, err = Read("")
	assert.EqualError(t, err, "JWT_SECRET is required")
}
