package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "vapi", cfg.Provider.Name)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Webhook.Secret)
	assert.Equal(t, 100, cfg.Webhook.RequestsPerSecond)
	assert.True(t, cfg.Reconciliation.RequireExistingRecords)
	assert.Equal(t, 10*time.Second, cfg.Reconciliation.LockTTL)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
webhook:
  secret: file-secret
provider:
  name: twilio
reconciliation:
  require_existing_records: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Webhook.Secret)
	assert.Equal(t, "twilio", cfg.Provider.Name)
	assert.False(t, cfg.Reconciliation.RequireExistingRecords)
	assert.Equal(t, 100, cfg.Webhook.RequestsPerSecond, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
`), 0o600))

	t.Setenv("CALLFLOW_SERVER__PORT", "7070")
	t.Setenv("CALLFLOW_WEBHOOK__SECRET", "env-secret")
	t.Setenv("CALLFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Webhook.Secret)
	assert.Equal(t, "debug", cfg.LogLevel)
}
