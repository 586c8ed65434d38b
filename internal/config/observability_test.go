package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObservabilityConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should load port and timeout",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_OBSERVABILITY_PORT":    "9100",
				"BIFROST_OBSERVABILITY_TIMEOUT": "3s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9100", cfg.Observability.Port)
				assert.Equal(t, 3*time.Second, cfg.Observability.Timeout)
				assert.Equal(t, "/healthz", cfg.Observability.LivenessPath)
				assert.Equal(t, "/readyz", cfg.Observability.ReadinessPath)
				assert.Equal(t, "/metrics", cfg.Observability.MetricsPath)
			},
		},
		{
			name:    "Should fail on port out of range",
			envVars: mergeEnvVars(map[string]string{"BIFROST_OBSERVABILITY_PORT": "70000"}),
			wantErr: true,
		},
		{
			name:    "Should fail on timeout below one second",
			envVars: mergeEnvVars(map[string]string{"BIFROST_OBSERVABILITY_TIMEOUT": "500ms"}),
			wantErr: true,
		},
	})
}

func TestObservabilityConfig_Paths(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should default monitor interval",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 15*time.Second, cfg.Observability.MonitorInterval)
			},
		},
		{
			name:    "Should reject monitor interval below one second",
			envVars: mergeEnvVars(map[string]string{"BIFROST_OBSERVABILITY_MONITOR_INTERVAL": "100ms"}),
			wantErr: true,
		},
		{
			name:    "Should reject relative paths",
			envVars: mergeEnvVars(map[string]string{"BIFROST_OBSERVABILITY_METRICS_PATH": "metrics"}),
			wantErr: true,
		},
		{
			name:    "Should reject colliding paths",
			envVars: mergeEnvVars(map[string]string{"BIFROST_OBSERVABILITY_READINESS_PATH": "/healthz"}),
			wantErr: true,
		},
	})
}
