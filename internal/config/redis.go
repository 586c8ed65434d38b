package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxRedisDB is the highest logical database a default Redis server exposes.
const maxRedisDB = 15

// RedisConfig configures the Redis connection used by the redis profile backend.
// A URL takes precedence over the individual components.
type RedisConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// Pool
	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Startup ping
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address returns the URL when set, host:port otherwise.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the endpoint, the production hardening rules and the pool sizing.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else if err := c.validateComponents(environment); err != nil {
		return err
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}
	return nil
}

func (c *RedisConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.Password == "" {
		return errors.New("redis password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
		return err
	}
	if !c.TLSEnabled {
		return errors.New("redis TLS must be enabled in production environment")
	}
	return nil
}

// IsConfigured reports whether enough is set to dial Redis.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// isProvided reports whether any connection setting was supplied.
func (c *RedisConfig) isProvided() bool {
	return c.URL != "" || c.Host != "" || c.Port != ""
}

// validateRedisURL accepts redis:// and rediss:// URLs with an optional
// numeric database path.
func validateRedisURL(redisURL string) error {
	parsed, err := parseAndValidateURL(redisURL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	db := strings.TrimPrefix(parsed.Path, "/")
	if db == "" {
		return nil
	}
	n, err := strconv.Atoi(db)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", db)
	}
	if n < 0 || n > maxRedisDB {
		return fmt.Errorf("database number must be between 0 and %d, got %d", maxRedisDB, n)
	}
	return nil
}
