package config

import (
	"fmt"
	"strings"
	"time"
)

// Profile storage backends.
const (
	ProfileBackendNone     = "none"
	ProfileBackendMemory   = "memory"
	ProfileBackendRedis    = "redis"
	ProfileBackendPostgres = "postgres"
)

// DatafileConfig points at the JSON datafile the decision engine is built from.
type DatafileConfig struct {
	Path string `envconfig:"PATH"`
}

// Validate checks DatafileConfig fields for correctness.
func (d *DatafileConfig) Validate() error {
	if err := validateNoWhitespace(d.Path, "datafile path"); err != nil {
		return err
	}
	if !strings.HasSuffix(d.Path, ".json") {
		return fmt.Errorf("datafile path must point to a .json file, got %q", d.Path)
	}
	return nil
}

// ProfilesConfig selects and tunes the sticky-bucketing store.
type ProfilesConfig struct {
	Backend string `envconfig:"BACKEND" default:"none" validate:"oneof=none memory redis postgres"`

	// In-memory store
	MemoryCapacity int           `envconfig:"MEMORY_CAPACITY" default:"100000" validate:"min=1"`
	MemoryTTL      time.Duration `envconfig:"MEMORY_TTL" default:"24h"`

	// Redis store
	RedisKeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"bifrost:profile:"`
	RedisTTL       time.Duration `envconfig:"REDIS_TTL" default:"0s"`

	// Timeout bounds each lookup/save so a slow store cannot stall decisions.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"200ms" validate:"min=1ms"`
}

// Validate checks ProfilesConfig fields for correctness.
func (p *ProfilesConfig) Validate() error {
	if p.Backend == ProfileBackendMemory && p.MemoryTTL <= 0 {
		return fmt.Errorf("memory profile TTL must be positive, got %s", p.MemoryTTL)
	}
	if p.Backend == ProfileBackendRedis {
		if err := validateNoWhitespace(p.RedisKeyPrefix, "redis profile key prefix"); err != nil {
			return err
		}
		if p.RedisTTL < 0 {
			return fmt.Errorf("redis profile TTL cannot be negative, got %s", p.RedisTTL)
		}
	}
	return nil
}

// Enabled reports whether sticky bucketing is configured.
func (p *ProfilesConfig) Enabled() bool {
	return p.Backend != "" && p.Backend != ProfileBackendNone
}
