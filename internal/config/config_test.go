package config

import (
	"bytes"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig provides the settings every test needs: a datafile plus
// database and Redis connections, so both are validated.
func minimalRequiredConfig() map[string]string {
	return map[string]string{
		"BIFROST_DATAFILE_PATH":  "/etc/bifrost/datafile.json",
		"BIFROST_DB_HOST":        "localhost",
		"BIFROST_DB_PORT":        "5432",
		"BIFROST_DB_NAME":        "bifrost_test",
		"BIFROST_DB_USER":        "test_user",
		"BIFROST_DB_PASSWORD":    "test_pass",
		"BIFROST_REDIS_HOST":     "localhost",
		"BIFROST_REDIS_PORT":     "6379",
		"BIFROST_REDIS_PASSWORD": "redis_password_123",
	}
}

// mergeEnvVars merges additional env vars with minimal required config
func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete valid production configuration
func validProductionConfig() map[string]string {
	return map[string]string{
		"BIFROST_APP_ENV":       "production",
		"BIFROST_DATAFILE_PATH": "/etc/bifrost/datafile.json",

		"BIFROST_DB_HOST":     "prod-db.example.com",
		"BIFROST_DB_PORT":     "5432",
		"BIFROST_DB_NAME":     "bifrost_prod",
		"BIFROST_DB_USER":     "prod_user",
		"BIFROST_DB_PASSWORD": "SuperSecure123!",
		"BIFROST_DB_SSL_MODE": "require",

		"BIFROST_REDIS_HOST":        "prod-redis.example.com",
		"BIFROST_REDIS_PORT":        "6379",
		"BIFROST_REDIS_PASSWORD":    "RedisSecure123!",
		"BIFROST_REDIS_TLS_ENABLED": "true",

		"BIFROST_SERVER_DECIDE_API_KEY_HASH":  "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
		"BIFROST_SERVER_DECIDE_TLS_ENABLED":   "true",
		"BIFROST_SERVER_DECIDE_TLS_CERT_FILE": "/certs/decide-cert.pem",
		"BIFROST_SERVER_DECIDE_TLS_KEY_FILE":  "/certs/decide-key.pem",
	}
}

// runLoadCases is shared by the table tests of this package.
func runLoadCases(t *testing.T, tests []loadCase) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// t.Setenv prevents parallel execution and restores the environment.
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}

type loadCase struct {
	name    string
	envVars map[string]string
	want    func(t *testing.T, cfg *Config)
	wantErr bool
}

func TestLoad(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should use defaults when only required env vars are set",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "bifrost", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, "log", cfg.App.ErrorHandler)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8080", cfg.Server.Decide.Port)
				assert.Equal(t, "9090", cfg.Observability.Port)
				assert.Equal(t, ProfileBackendNone, cfg.Profiles.Backend)
			},
		},
		{
			name: "Should load all custom environment variables correctly",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_NAME":             "test-app",
				"BIFROST_APP_VERSION":          "1.0.0",
				"BIFROST_APP_ENV":              "staging",
				"BIFROST_APP_LOG_LEVEL":        "debug",
				"BIFROST_APP_LOG_FORMAT":       "json",
				"BIFROST_APP_ERROR_HANDLER":    "panic",
				"BIFROST_APP_SHUTDOWN_TIMEOUT": "60s",
				"BIFROST_SERVER_DECIDE_PORT":   "9000",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "test-app", cfg.App.Name)
				assert.Equal(t, "1.0.0", cfg.App.Version)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "debug", cfg.App.LogLevel)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, "panic", cfg.App.ErrorHandler)
				assert.Equal(t, 60*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "9000", cfg.Server.Decide.Port)
			},
		},
		{
			name:    "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_ENV": "invalid"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_LOG_LEVEL": "trace"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log format",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_LOG_FORMAT": "xml"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on unknown error handler",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_ERROR_HANDLER": "email"}),
			wantErr: true,
		},
		{
			name: "Should allow missing passwords in non-production environments",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_DB_PASSWORD":    "",
				"BIFROST_REDIS_PASSWORD": "",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "", cfg.Database.Password)
				assert.Equal(t, "", cfg.Redis.Password)
			},
		},
		{
			name:    "Should not require database or redis without a backend using them",
			envVars: map[string]string{"BIFROST_DATAFILE_PATH": "/data/datafile.json"},
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Database.IsConfigured())
				assert.False(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should accept full production configuration",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EnvironmentProduction, cfg.App.Environment)
			},
		},
	})
}

func TestConfig_LogConfigOmitsSecrets(t *testing.T) {
	for key, value := range validProductionConfig() {
		t.Setenv(key, value)
	}
	cfg, err := Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	cfg.LogConfig(slog.New(slog.NewTextHandler(&buf, nil)))

	out := buf.String()
	assert.Contains(t, out, "configuration loaded")
	assert.Contains(t, out, "admin_auth_enabled=true")
	assert.NotContains(t, out, "SuperSecure123!")
	assert.NotContains(t, out, "RedisSecure123!")
	assert.NotContains(t, out, cfg.Server.Decide.APIKeyHash)
}
