package models

import "time"

// Config holds the application configuration
type Config struct {
	Gateway       GatewayConfig  `json:"gateway"`
	License       LicenseConfig  `json:"license"`
	Database      DatabaseConfig `json:"database"`
	Retry         RetryConfig    `json:"retry"`
	Tracing       TracingConfig  `json:"tracing"`
	Server        ServerConfig   `json:"server"`
	LogLevel      string         `json:"log_level"`
	RetentionDays int            `json:"retentionDays"`
}

// GatewayConfig holds the platform gateway related configuration
type GatewayConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	Timeout        time.Duration `json:"timeout_ms"`
	SendTimeoutSec int           `json:"sendTimeoutSec"`
}

// LicenseConfig holds the license service related configuration
type LicenseConfig struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	AllowAll bool   `json:"allow_all"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

// ServerConfig holds admin API server related configuration
type ServerConfig struct {
	Port                 int `json:"port"`
	ReadTimeoutSec       int `json:"readTimeoutSec"`
	WriteTimeoutSec      int `json:"writeTimeoutSec"`
	IdleTimeoutSec       int `json:"idleTimeoutSec"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
