package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"telefeed/internal/constants"
	"telefeed/internal/models"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingLicenseURL = models.ConfigError{Message: "missing license service URL (set license.allow_all to run without one)"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := validateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateFilePath rejects traversal sequences and null bytes before the file
// is opened.
func validateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains null byte")
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("path contains directory traversal")
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if !c.License.AllowAll && c.License.BaseURL == "" {
		return ErrMissingLicenseURL
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Gateway.SendTimeoutSec <= 0 {
		c.Gateway.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.CleanupIntervalHours <= 0 {
		c.Server.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("TELEFEED_GATEWAY_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	// SECURITY: API keys should be set via environment variables
	if key := os.Getenv("TELEFEED_GATEWAY_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if url := os.Getenv("TELEFEED_LICENSE_URL"); url != "" {
		c.License.BaseURL = url
	}
	if key := os.Getenv("TELEFEED_LICENSE_API_KEY"); key != "" {
		c.License.APIKey = key
	}
	if path := os.Getenv("TELEFEED_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("TELEFEED_ENV") == "production"

	if isProduction {
		if c.Gateway.APIKey == "" {
			return models.ConfigError{Message: "gateway API key is required in production (set TELEFEED_GATEWAY_API_KEY environment variable)"}
		}
		if len(c.Gateway.APIKey) < 32 {
			return models.ConfigError{Message: "gateway API key must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Gateway.APIKey == "" {
			fmt.Fprintf(os.Stderr, "WARNING: gateway API key not set. Set TELEFEED_GATEWAY_API_KEY environment variable for security.\n")
		}
	}

	return nil
}
