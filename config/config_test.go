// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies defaults, environment overrides, YAML files, and required settings
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	// keep stray .env files and user config out of the test
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.hubapi.com", cfg.HubSpotBaseURL)
	assert.Equal(t, []string{"74948272", "35923868", "663516528"}, cfg.Pipelines)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.CreatedAfter)
	assert.Equal(t, 3, cfg.RetryBudget)
	assert.Equal(t, 15*time.Minute, cfg.ScheduleLookback)
	assert.Equal(t, 20, cfg.WebhookBatchThreshold)
	assert.Equal(t, SpecialFieldsSyncTime, cfg.SpecialFieldsMode)
	assert.Equal(t, StatusBackendWarehouse, cfg.StatusBackend)
	assert.Equal(t, 30*time.Minute, cfg.StatusLease)
	assert.Contains(t, cfg.WarehouseDSN, "warehouse.db")
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("HUBSPOT_API_KEY", "  pat-123  ")
	t.Setenv("HUBSPOT_PIPELINES", "1, 2,,3")
	t.Setenv("HUBSPOT_BASE_URL", "http://localhost:9999/")
	t.Setenv("WEBHOOK_BATCH_THRESHOLD", "5")
	t.Setenv("SPECIAL_FIELDS_MODE", SpecialFieldsUpstreamModified)
	t.Setenv("SCHEDULE_LOOKBACK", "1h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pat-123", cfg.HubSpotAPIKey)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Pipelines)
	assert.Equal(t, "http://localhost:9999", cfg.HubSpotBaseURL)
	assert.Equal(t, 5, cfg.WebhookBatchThreshold)
	assert.Equal(t, SpecialFieldsUpstreamModified, cfg.SpecialFieldsMode)
	assert.Equal(t, time.Hour, cfg.ScheduleLookback)
}

func TestLoadYAMLFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api_auth_key: secret\nstatus_backend: s3\nstatus_s3_bucket: sync-bucket\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIAuthKey)
	assert.Equal(t, StatusBackendS3, cfg.StatusBackend)
	assert.Equal(t, "sync-bucket", cfg.StatusS3.Bucket)
	assert.Equal(t, "sync-info/deals.json", cfg.StatusS3.Key)
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("API_AUTH_KEY=from-dotenv\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("API_AUTH_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.APIAuthKey)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"special fields mode", "SPECIAL_FIELDS_MODE", "sometimes"},
		{"status backend", "STATUS_BACKEND", "redis"},
		{"created after", "HUBSPOT_CREATED_AFTER", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.env, tt.val)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestRequire(t *testing.T) {
	cfg := &Config{HubSpotAPIKey: "pat", WarehouseDSN: "sqlite://x.db"}

	assert.NoError(t, cfg.Require(KeyHubSpotAPIKey, KeyWarehouseDSN))

	err := cfg.Require(KeyHubSpotAPIKey, KeyAPIAuthKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingSetting))
	assert.Contains(t, err.Error(), "API_AUTH_KEY")

	assert.Error(t, cfg.Require("bogus"))
}
