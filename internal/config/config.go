// Package config loads and validates the gateway's YAML configuration, following the
// teacher's load -> env-override -> default -> validate pipeline.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	Auth       AuthConfig                `yaml:"auth"`
	RateLimit  RateLimitConfig           `yaml:"rate_limit"`
	Logging    LoggingConfig             `yaml:"logging"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Retention  RetentionConfig           `yaml:"retention"`
	Checkpoint CheckpointConfig          `yaml:"checkpoint"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the SQLite persistence engine.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig configures JWT/API key auth. Leaving JWTSecret empty and APIKeys nil
// disables auth entirely.
type AuthConfig struct {
	JWTSecret   string            `yaml:"jwt_secret"`
	TokenExpiry time.Duration     `yaml:"token_expiry"`
	APIKeys     map[string]string `yaml:"api_keys"` // key -> user id
}

// RateLimitConfig configures the proxy's per-session token-bucket limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig configures the ambient slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	APIKey       string            `yaml:"api_key"`
	BaseURL      string            `yaml:"base_url"`
	DefaultModel string            `yaml:"default_model"`
	Headers      map[string]string `yaml:"headers"`
}

// RetentionConfig configures the background conversation-retention sweep.
type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"` // standard 5-field cron expression
}

// CheckpointConfig configures when an in-flight draft message gets persisted.
type CheckpointConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MinChars int           `yaml:"min_chars"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads, env-expands, and decodes path, then applies env-var overrides, fills in
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: parse: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyLoggingDefaults(&cfg.Logging)
	applyRetentionDefaults(&cfg.Retention)
	applyCheckpointDefaults(&cfg.Checkpoint)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.DSN == "" {
		cfg.DSN = "nexus-gateway.db"
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst == 0 {
		cfg.Burst = 10
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyRetentionDefaults(cfg *RetentionConfig) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.MinChars == 0 {
		cfg.MinChars = 200
	}
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("NEXUS_GATEWAY_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_GATEWAY_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_DSN")); value != "" {
		cfg.Database.DSN = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
}

// ValidationError reports every configuration problem found, not just the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

var validProviderFamilies = map[string]bool{
	"openai": true, "openai_responses": true, "anthropic": true,
	"gemini": true, "openrouter": true, "copilot_proxy": true,
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 1 and 65535")
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		issues = append(issues, "rate_limit.requests_per_second must be positive")
	}
	if cfg.Checkpoint.MinChars < 0 {
		issues = append(issues, "checkpoint.min_chars must not be negative")
	}
	if cfg.Retention.Days < 0 {
		issues = append(issues, "retention.days must not be negative")
	}
	for id, p := range cfg.Providers {
		if !validProviderFamilies[id] {
			issues = append(issues, fmt.Sprintf("providers.%s is not a recognized provider id", id))
			continue
		}
		if p.APIKey == "" {
			issues = append(issues, fmt.Sprintf("providers.%s.api_key must not be empty", id))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
