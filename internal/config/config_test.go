package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CA_STORE", "memory")
	t.Setenv("CA_WEBHOOK_SECRET", "hook")
	t.Setenv("CA_ADMIN_SECRET", "admin")
	t.Setenv("CA_SESSION_SECRET", "session")
}

func TestLoad_DefaultsWithEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CA_HTTP_ADDR", ":9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, ":8081", cfg.MetricsAddr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "https://api.whop.com", cfg.ProviderBaseURL)
	assert.Equal(t, "hook", cfg.WebhookSecret)
}

func TestLoad_MissingSecretsFails(t *testing.T) {
	t.Setenv("CA_STORE", "memory")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PostgresRequiresDSNAndKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CA_STORE", "postgres")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CA_DATABASE_DSN", "postgres://admin:pw@localhost:5432/creator_analytics")
	t.Setenv("CA_TOKEN_KEY", "32-byte-key-for-aes-encryption!!")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store)
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CA_STORE", "cassandra")

	_, err := Load()
	assert.Error(t, err)
}
