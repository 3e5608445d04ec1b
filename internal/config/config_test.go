package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost:5432/emailengine?sslmode=disable"
  max_open_conns: 40

sendgrid:
  api_key: "test-api-key"
  webhook_token: "hook-token"
  timeout_seconds: 45

sending:
  enabled: true
  provider: "sendgrid"
  allowlist:
    - "qa@example.com"
    - "@internal.example.com"

unsubscribe:
  secret: "unsub-secret"
  base_url: "https://mail.example.com"

worker:
  batch_size: 50
  concurrency: 8
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost:5432/emailengine?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)
	assert.Equal(t, "test-api-key", cfg.SendGrid.APIKey)
	assert.Equal(t, "hook-token", cfg.SendGrid.WebhookToken)
	assert.Equal(t, 45, cfg.SendGrid.TimeoutSeconds)
	assert.True(t, cfg.Sending.Enabled)
	assert.Equal(t, []string{"qa@example.com", "@internal.example.com"}, cfg.Sending.Allowlist)
	assert.Equal(t, "unsub-secret", cfg.Unsubscribe.Secret)
	assert.Equal(t, "https://mail.example.com", cfg.Unsubscribe.BaseURL)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "https://api.sendgrid.com", cfg.SendGrid.BaseURL)
	assert.Equal(t, 30, cfg.SendGrid.TimeoutSeconds)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "sendgrid", cfg.Sending.Provider)
	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, 15, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 10, cfg.Worker.StaleAgeMinutes)
	assert.Equal(t, 2, cfg.Worker.RecoveryIntervalMinutes)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.False(t, cfg.Sending.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("sendgrid:\n  api_key: \"file-key\"\n"), 0644)
	require.NoError(t, err)

	t.Setenv("SENDGRID_API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("EMAIL_SENDING_ENABLED", "true")
	t.Setenv("EMAIL_ALLOWLIST", "a@b.com, @c.com")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.SendGrid.APIKey)
	assert.Equal(t, "postgres://env-host/db", cfg.Database.URL)
	assert.True(t, cfg.Sending.Enabled)
	assert.Equal(t, []string{"a@b.com", "@c.com"}, cfg.Sending.Allowlist)
}
