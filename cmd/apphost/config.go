package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/apphost/internal/core/ports"
	"github.com/artpar/apphost/internal/stacks"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Project     string          `mapstructure:"project"`
	RunMode     string          `mapstructure:"run_mode"`
	TargetEnv   string          `mapstructure:"target_env"`
	SecretsFile string          `mapstructure:"secrets_file"`
	ComposeFile string          `mapstructure:"compose_file"`
	DataDir     string          `mapstructure:"data_dir"`
	Concurrency int             `mapstructure:"concurrency"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Docker      DockerConfig    `mapstructure:"docker"`
	Endpoints   EndpointsConfig `mapstructure:"endpoints"`
	Health      HealthConfig    `mapstructure:"health"`
	Log         LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the plan store configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	// Enabled turns on the host port probe and the container starter.
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// EndpointsConfig holds the endpoint allocation settings.
type EndpointsConfig struct {
	Host  string      `mapstructure:"host"`
	Ports ports.Range `mapstructure:"ports"`
}

// HealthConfig holds readiness probe and health monitor settings.
type HealthConfig struct {
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("project", "apphost")
	v.SetDefault("run_mode", "infra-only")
	v.SetDefault("target_env", "dev")
	v.SetDefault("secrets_file", ".env")
	v.SetDefault("compose_file", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("concurrency", 0)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 18888)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "")
	v.SetDefault("endpoints.host", "localhost")
	v.SetDefault("endpoints.ports.start", ports.DefaultRange().Start)
	v.SetDefault("endpoints.ports.end", ports.DefaultRange().End)
	v.SetDefault("health.probe_interval", "1s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.monitor_interval", "30s")
	v.SetDefault("health.max_concurrent", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("APPHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The feature selection and target environment are also read unprefixed.
	if err := v.BindEnv("run_mode", "APPHOST_RUN_MODE", "RUN_MODE"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("target_env", "APPHOST_TARGET_ENV", "TARGET_ENV"); err != nil {
		return nil, err
	}
	// No default: an empty DSN is derived from data_dir.
	if err := v.BindEnv("database.dsn"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "apphost.db")
	}
	if err := cfg.Endpoints.Ports.Validate(); err != nil {
		return nil, fmt.Errorf("invalid endpoints.ports: %w", err)
	}

	return &cfg, nil
}

// LoadSecrets reads the stack credentials from a dotenv file. Process
// environment variables of the same name take precedence; a missing file
// leaves only the environment.
func LoadSecrets(path string) (stacks.Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return stacks.Config{}, fmt.Errorf("failed to read secrets file %s: %w", path, err)
		}
	}

	return stacks.ConfigFrom(v.GetString), nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to stderr so command output on stdout stays parseable.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
