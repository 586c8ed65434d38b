package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// maxPostgresIdentifier is PostgreSQL's NAMEDATALEN - 1.
const maxPostgresIdentifier = 63

// DatabaseConfig configures the PostgreSQL pool used by the postgres profile
// backend. A URL takes precedence over the individual components.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`

	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Pool
	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
}

// ConnectionString returns the URL when set, otherwise a postgres:// URL
// assembled from the components with credentials escaped.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks the endpoint, the production hardening rules and the pool sizing.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	} else if err := c.validateComponents(environment); err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

func (c *DatabaseConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Name, "database name"); err != nil {
		return err
	}
	if len(c.Name) > maxPostgresIdentifier {
		return fmt.Errorf("database name cannot exceed %d characters", maxPostgresIdentifier)
	}
	if err := validateNoWhitespace(c.User, "database user"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.Password == "" {
		return errors.New("database password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
		return err
	}
	if !isSecureSSLMode(c.SSLMode) {
		return errors.New("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
	}
	return nil
}

// IsConfigured reports whether enough is set to open a pool.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

// isProvided reports whether any connection setting was supplied.
func (c *DatabaseConfig) isProvided() bool {
	return c.URL != "" || c.Host != "" || c.Port != "" || c.Name != "" || c.User != ""
}

// validatePostgresURL requires a user and a database name in the URL.
func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return errors.New("user is required in URL")
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return errors.New("database name is required in URL path")
	}
	return nil
}
