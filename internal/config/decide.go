package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"
)

// DecideServerConfig configures the HTTP decision API.
type DecideServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1"`

	// APIKeyHash is the hex SHA-256 of the key guarding forced-variation
	// endpoints. Empty disables the check outside production.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Address returns host:port for the listener.
func (c *DecideServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the listener, the API key hash and the TLS settings.
func (c *DecideServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "decide server"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "decide server"); err != nil {
		return err
	}

	switch {
	case c.APIKeyHash != "":
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	case environment == EnvironmentProduction:
		return errors.New("API key hash is required in production environment")
	}

	if !c.TLSEnabled {
		if environment == EnvironmentProduction {
			return errors.New("TLS must be enabled in production environment")
		}
		return nil
	}
	if c.TLSCert == "" || c.TLSKey == "" {
		return errors.New("TLS enabled but cert or key file not specified")
	}
	return nil
}

func validateSHA256Hash(hash string) error {
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("hash must be hexadecimal: %w", err)
	}
	if len(raw) != sha256.Size {
		return fmt.Errorf("hash must encode %d bytes, got %d", sha256.Size, len(raw))
	}
	return nil
}
