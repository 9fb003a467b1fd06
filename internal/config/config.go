// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, durations and sizes

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Assistant   AssistantConfig   `yaml:"assistant" toml:"assistant"`
	Handoff     HandoffConfig     `yaml:"handoff" toml:"handoff"`
	Limits      LimitsConfig      `yaml:"limits" toml:"limits"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// StorageConfig holds attachment blob storage configuration.
// An empty bucket disables attachment storage.
type StorageConfig struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style" toml:"path_style"`

	PreviewTTL    time.Duration `yaml:"-" toml:"-"`
	PreviewTTLRaw string        `yaml:"preview_ttl" toml:"preview_ttl"`
}

// AssistantConfig holds the assistant and follow-up service endpoints
type AssistantConfig struct {
	URL           string `yaml:"url" toml:"url"`
	EscalationURL string `yaml:"escalation_url" toml:"escalation_url"`
	HandoffURL    string `yaml:"handoff_url" toml:"handoff_url"`
	HistoryLimit  int    `yaml:"history_limit" toml:"history_limit"`

	// Outbound bearer auth: a JWT signed with SigningSecret, or a static ServiceToken
	SigningSecret string `yaml:"signing_secret" toml:"signing_secret"`
	ServiceToken  string `yaml:"service_token" toml:"service_token"`

	Timeout           time.Duration `yaml:"-" toml:"-"`
	FileTimeout       time.Duration `yaml:"-" toml:"-"`
	EscalationTimeout time.Duration `yaml:"-" toml:"-"`
	TokenTTL          time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw           string `yaml:"timeout" toml:"timeout"`
	FileTimeoutRaw       string `yaml:"file_timeout" toml:"file_timeout"`
	EscalationTimeoutRaw string `yaml:"escalation_timeout" toml:"escalation_timeout"`
	TokenTTLRaw          string `yaml:"token_ttl" toml:"token_ttl"`
}

// HandoffConfig holds the human-support business hours
type HandoffConfig struct {
	Timezone      string `yaml:"timezone" toml:"timezone"`
	OpenHour      int    `yaml:"open_hour" toml:"open_hour"`
	CloseHour     int    `yaml:"close_hour" toml:"close_hour"`
	LocationLabel string `yaml:"location_label" toml:"location_label"`
}

// LimitsConfig holds request limits
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`

	MaxUploadSize    int64  `yaml:"-" toml:"-"`
	MaxUploadSizeRaw string `yaml:"max_upload_size" toml:"max_upload_size"`
}

// IdempotencyConfig holds the Idempotency-Key replay window
type IdempotencyConfig struct {
	MaxEntries int `yaml:"max_entries" toml:"max_entries"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration and size strings are parsed into typed values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := parseSizes(&cfg); err != nil {
		return nil, fmt.Errorf("parsing sizes: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields. Raw strings get defaults so parsing stays in one place.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Storage.PreviewTTLRaw == "" {
		c.Storage.PreviewTTLRaw = "72h"
	}
	if c.Assistant.HistoryLimit == 0 {
		c.Assistant.HistoryLimit = 20
	}
	if c.Assistant.TimeoutRaw == "" {
		c.Assistant.TimeoutRaw = "60s"
	}
	if c.Assistant.FileTimeoutRaw == "" {
		c.Assistant.FileTimeoutRaw = "120s"
	}
	if c.Assistant.EscalationTimeoutRaw == "" {
		c.Assistant.EscalationTimeoutRaw = "30s"
	}
	if c.Assistant.TokenTTLRaw == "" {
		c.Assistant.TokenTTLRaw = "5m"
	}
	if c.Handoff.Timezone == "" {
		c.Handoff.Timezone = "America/New_York"
	}
	if c.Handoff.OpenHour == 0 && c.Handoff.CloseHour == 0 {
		c.Handoff.OpenHour = 9
		c.Handoff.CloseHour = 17
	}
	if c.Handoff.LocationLabel == "" {
		c.Handoff.LocationLabel = "Miami"
	}
	if c.Limits.MaxUploadSizeRaw == "" {
		c.Limits.MaxUploadSizeRaw = "32MB"
	}
	if c.Idempotency.TTLRaw == "" {
		c.Idempotency.TTLRaw = "10m"
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Assistant.URL == "" {
		return fmt.Errorf("assistant.url is required")
	}
	if c.Assistant.EscalationURL == "" {
		return fmt.Errorf("assistant.escalation_url is required")
	}
	if c.Assistant.HandoffURL == "" {
		return fmt.Errorf("assistant.handoff_url is required")
	}
	if c.Assistant.HistoryLimit < 0 {
		return fmt.Errorf("assistant.history_limit must not be negative")
	}

	if c.Handoff.OpenHour < 0 || c.Handoff.CloseHour > 24 || c.Handoff.OpenHour >= c.Handoff.CloseHour {
		return fmt.Errorf("handoff hours %d-%d are invalid", c.Handoff.OpenHour, c.Handoff.CloseHour)
	}
	if _, err := time.LoadLocation(c.Handoff.Timezone); err != nil {
		return fmt.Errorf("handoff.timezone: %w", err)
	}

	if c.Limits.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second must not be negative")
	}

	if c.Storage.Bucket != "" && c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey == "" {
		return fmt.Errorf("storage.secret_access_key is required with storage.access_key_id")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"storage.preview_ttl", cfg.Storage.PreviewTTLRaw, &cfg.Storage.PreviewTTL},
		{"assistant.timeout", cfg.Assistant.TimeoutRaw, &cfg.Assistant.Timeout},
		{"assistant.file_timeout", cfg.Assistant.FileTimeoutRaw, &cfg.Assistant.FileTimeout},
		{"assistant.escalation_timeout", cfg.Assistant.EscalationTimeoutRaw, &cfg.Assistant.EscalationTimeout},
		{"assistant.token_ttl", cfg.Assistant.TokenTTLRaw, &cfg.Assistant.TokenTTL},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

// parseSizes converts human-readable byte sizes such as "32MB" into byte counts
func parseSizes(cfg *Config) error {
	if cfg.Limits.MaxUploadSizeRaw == "" {
		return nil
	}
	n, err := humanize.ParseBytes(cfg.Limits.MaxUploadSizeRaw)
	if err != nil {
		return fmt.Errorf("parsing limits.max_upload_size %q: %w", cfg.Limits.MaxUploadSizeRaw, err)
	}
	cfg.Limits.MaxUploadSize = int64(n)
	return nil
}
