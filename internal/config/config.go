// Package config loads and validates the audit service configuration using
// Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ZMA_ prefix (e.g., ZMA_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment
// variables in containerized deployments — no recompilation or different
// binaries needed.
//
// The JWT_SECRET variable has no ZMA_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Export    ExportConfig    `mapstructure:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens for the query and admin
	// API. Usually supplied via the JWT_SECRET environment variable.
	JWTSecret string `mapstructure:"jwt_secret"`
	// Issuer expected in presented tokens
	Issuer string `mapstructure:"issuer"`
}

// AuditConfig holds tunables for the event store write and validation paths
type AuditConfig struct {
	// ChainLookbackHours bounds the "most recent event" query used to
	// bootstrap the chain tail when the tail row is missing (for example a
	// first deployment over a database that already holds events). The
	// window assumes events are inserted close to real time; it is a
	// tunable, not a correctness requirement — the chain_tail row is the
	// authoritative pointer in normal operation.
	ChainLookbackHours int `mapstructure:"chain_lookback_hours"`
	// PartitionLeadMonths is how many future monthly partitions the
	// partition creator job keeps provisioned ahead of the current month.
	PartitionLeadMonths int `mapstructure:"partition_lead_months"`
	// PartitionCheckIntervalHours determines how often the partition
	// creator job runs (default 24).
	PartitionCheckIntervalHours int `mapstructure:"partition_check_interval_hours"`
	// LogAccess toggles meta-audit access logging on the read path.
	LogAccess bool `mapstructure:"log_access"`
}

// ExportConfig holds settings for the asynchronous export worker
type ExportConfig struct {
	// OutputDir is where export artifacts are written
	OutputDir string `mapstructure:"output_dir"`
	// ArtifactTTL is how long a completed artifact remains downloadable
	ArtifactTTL time.Duration `mapstructure:"artifact_ttl"`
	// PollInterval is how often the worker checks for pending jobs
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxRows clamps the number of events a single export may contain
	MaxRows int `mapstructure:"max_rows"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Auth
		"auth.jwt_secret",
		"auth.issuer",

		// Audit
		"audit.chain_lookback_hours",
		"audit.partition_lead_months",
		"audit.partition_check_interval_hours",
		"audit.log_access",

		// Export
		"export.output_dir",
		"export.artifact_ttl",
		"export.poll_interval",
		"export.max_rows",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/zmanim-audit")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("ZMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)

	// The un-prefixed secret name wins when set, so generic secret injection
	// works without knowledge of the viper key layout.
	if s := os.Getenv("JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "zmanim_audit")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "zmanim-audit")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Auth defaults
	v.SetDefault("auth.issuer", "zmanim-platform")

	// Audit defaults
	v.SetDefault("audit.chain_lookback_hours", 24)
	v.SetDefault("audit.partition_lead_months", 2)
	v.SetDefault("audit.partition_check_interval_hours", 24)
	v.SetDefault("audit.log_access", true)

	// Export defaults
	v.SetDefault("export.output_dir", "./exports")
	v.SetDefault("export.artifact_ttl", "72h")
	v.SetDefault("export.poll_interval", "15s")
	v.SetDefault("export.max_rows", 10000)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate audit tunables
	if c.Audit.ChainLookbackHours < 1 {
		return fmt.Errorf("audit.chain_lookback_hours must be at least 1, got %d", c.Audit.ChainLookbackHours)
	}
	if c.Audit.PartitionLeadMonths < 0 {
		return fmt.Errorf("audit.partition_lead_months must not be negative, got %d", c.Audit.PartitionLeadMonths)
	}

	// Validate export settings
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export.output_dir is required")
	}
	if c.Export.MaxRows < 1 {
		return fmt.Errorf("export.max_rows must be at least 1, got %d", c.Export.MaxRows)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
