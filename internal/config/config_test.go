package config

import (
	"os"
	"path/filepath"
	"testing"

	"telefeed/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"gateway": {
		"base_url": "http://localhost:8080",
		"api_key": "test-key"
	},
	"license": {
		"allow_all": true
	},
	"database": {
		"path": "/tmp/telefeed.db"
	}
}`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Gateway.BaseURL)
	assert.Equal(t, "/tmp/telefeed.db", cfg.Database.Path)
	assert.True(t, cfg.License.AllowAll)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, constants.DefaultSendTimeoutSec, cfg.Gateway.SendTimeoutSec)
	assert.Equal(t, constants.DefaultRetryBackoffMs, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_MissingGatewayURL(t *testing.T) {
	path := writeConfig(t, `{"license": {"allow_all": true}, "database": {"path": "/tmp/x.db"}}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingGatewayURL)
}

func TestLoadConfig_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `{"gateway": {"base_url": "http://x"}, "license": {"allow_all": true}}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfig_LicenseURLRequiredUnlessAllowAll(t *testing.T) {
	path := writeConfig(t, `{"gateway": {"base_url": "http://x"}, "database": {"path": "/tmp/x.db"}}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingLicenseURL)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfig_RejectsBadPaths(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig("../../etc/passwd")
	assert.Error(t, err)

	_, err = LoadConfig("config\x00.json")
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("TELEFEED_GATEWAY_URL", "http://override:9090")
	t.Setenv("TELEFEED_GATEWAY_API_KEY", "override-key")
	t.Setenv("TELEFEED_DB_PATH", "/var/lib/telefeed/override.db")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:9090", cfg.Gateway.BaseURL)
	assert.Equal(t, "override-key", cfg.Gateway.APIKey)
	assert.Equal(t, "/var/lib/telefeed/override.db", cfg.Database.Path)
}

func TestLoadConfig_ProductionRequiresStrongAPIKey(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("TELEFEED_ENV", "production")

	_, err := LoadConfig(path)
	assert.Error(t, err)

	t.Setenv("TELEFEED_GATEWAY_API_KEY", "this-is-a-sufficiently-long-api-key-12345")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Gateway.APIKey, 41)
}

func TestLoadConfig_ProductionRejectsDebugLogging(t *testing.T) {
	path := writeConfig(t, `{
		"gateway": {"base_url": "http://x"},
		"license": {"allow_all": true},
		"database": {"path": "/tmp/x.db"},
		"log_level": "debug"
	}`)
	t.Setenv("TELEFEED_ENV", "production")
	t.Setenv("TELEFEED_GATEWAY_API_KEY", "this-is-a-sufficiently-long-api-key-12345")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
