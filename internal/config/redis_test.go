package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withoutKeys(env map[string]string, keys ...string) map[string]string {
	for _, k := range keys {
		delete(env, k)
	}
	return env
}

func TestRedisConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should fail validation with PingMaxRetries < 1",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_PING_MAX_RETRIES": "0"}),
			wantErr: true,
		},
		{
			name: "Should parse ping retry settings",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_REDIS_PING_MAX_RETRIES": "8",
				"BIFROST_REDIS_PING_BACKOFF":     "3s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Redis.PingMaxRetries)
				assert.Equal(t, 3*time.Second, cfg.Redis.PingBackoff)
				assert.Equal(t, "localhost:6379", cfg.Redis.Address())
			},
		},
		{
			name:    "Should fail on malformed duration",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_PING_BACKOFF": "soon"}),
			wantErr: true,
		},
		{
			name:    "Should fail when password missing in production",
			envVars: withoutKeys(validProductionConfig(), "BIFROST_REDIS_PASSWORD"),
			wantErr: true,
		},
		{
			name: "Should fail when TLS disabled in production",
			envVars: func() map[string]string {
				env := validProductionConfig()
				env["BIFROST_REDIS_TLS_ENABLED"] = "false"
				return env
			}(),
			wantErr: true,
		},
		{
			name: "Should accept URL in production",
			envVars: func() map[string]string {
				env := withoutKeys(validProductionConfig(),
					"BIFROST_REDIS_HOST", "BIFROST_REDIS_PORT", "BIFROST_REDIS_PASSWORD", "BIFROST_REDIS_TLS_ENABLED")
				env["BIFROST_REDIS_URL"] = "rediss://:password@redis.example.com:6379/0"
				return env
			}(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "rediss://:password@redis.example.com:6379/0", cfg.Redis.Address())
				assert.True(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should fail when MinIdleConns exceeds PoolSize",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_REDIS_POOL_SIZE":      "5",
				"BIFROST_REDIS_MIN_IDLE_CONNS": "10",
			}),
			wantErr: true,
		},
		{
			name:    "Should fail on DB number above 15",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_DB": "16"}),
			wantErr: true,
		},
		{
			name: "Should fail with short password in production",
			envVars: func() map[string]string {
				env := validProductionConfig()
				env["BIFROST_REDIS_PASSWORD"] = "short"
				return env
			}(),
			wantErr: true,
		},
		{
			name:    "Should fail with unsupported URL scheme",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_URL": "http://localhost:6379"}),
			wantErr: true,
		},
		{
			name:    "Should fail with non-numeric DB in URL",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_URL": "redis://localhost:6379/abc"}),
			wantErr: true,
		},
		{
			name:    "Should fail with non-numeric port",
			envVars: mergeEnvVars(map[string]string{"BIFROST_REDIS_PORT": "redis"}),
			wantErr: true,
		},
		{
			name: "Should validate partial settings even without redis backend",
			envVars: map[string]string{
				"BIFROST_DATAFILE_PATH": "/data/datafile.json",
				"BIFROST_REDIS_HOST":    "localhost",
			},
			wantErr: true,
		},
	})
}
