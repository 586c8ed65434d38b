// Package config provides centralized configuration management for Bifrost services.
// It uses envconfig for environment variable loading and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"

	// envPrefix is prepended to every environment variable (BIFROST_APP_NAME, ...).
	envPrefix = "BIFROST"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Datafile      DatafileConfig      `envconfig:"DATAFILE"`
	Profiles      ProfilesConfig      `envconfig:"PROFILES"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"bifrost"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// ErrorHandler selects how swallowed decision errors are reported: noop, log or panic.
	ErrorHandler string `envconfig:"ERROR_HANDLER" default:"log" validate:"oneof=noop log panic"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Decide DecideServerConfig `envconfig:"DECIDE"`
}

// Load reads configuration from environment variables with the BIFROST prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the loaded configuration using go-playground/validator.
// Redis and Postgres settings are checked when the profile backend needs them
// or when they are partially provided.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Datafile.Validate(); err != nil {
		return err
	}

	if err := c.Profiles.Validate(); err != nil {
		return err
	}

	if c.Profiles.Backend == ProfileBackendPostgres || c.Database.isProvided() {
		if err := c.Database.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	if c.Profiles.Backend == ProfileBackendRedis || c.Redis.isProvided() {
		if err := c.Redis.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	if err := c.Server.Decide.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Observability.Validate(); err != nil {
		return err
	}

	return nil
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.String("error_handler", c.App.ErrorHandler),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("decide_port", c.Server.Decide.Port),
		slog.Bool("tls_enabled", c.Server.Decide.TLSEnabled),
		slog.Bool("admin_auth_enabled", c.Server.Decide.APIKeyHash != ""),
		slog.String("datafile_path", c.Datafile.Path),
		slog.String("profiles_backend", c.Profiles.Backend),
		slog.String("observability_port", c.Observability.Port),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
	)
}

// minProductionPasswordLen applies to Redis and database passwords in production.
const minProductionPasswordLen = 12

func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, n)
	}
	return nil
}

func validateHost(host, context string) error {
	return validateNoWhitespace(host, context+" host")
}

// validateNoWhitespace rejects empty values and surrounding whitespace.
func validateNoWhitespace(value, fieldName string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", fieldName)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s cannot contain whitespace", fieldName)
	}
	return nil
}

func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < minProductionPasswordLen {
		return fmt.Errorf("%s password must be at least %d characters in production", context, minProductionPasswordLen)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	return slices.Contains([]string{"require", "verify-ca", "verify-full"}, mode)
}

// parseAndValidateURL parses rawURL and checks its scheme and host.
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return parsed, nil
}
