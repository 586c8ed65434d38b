package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/config"
)

func testConfig() *config.ObservabilityConfig {
	return &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	healthy := CheckerFunc("datafile", func(context.Context) error { return nil })
	broken := CheckerFunc("redis", func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checkers   []Checker
		path       string
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "Should answer liveness on custom path",
			path:       "/alive",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Should be ready when all checkers pass",
			checkers:   []Checker{healthy},
			path:       "/check-deps",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"datafile": "up"},
		},
		{
			name:       "Should not be ready when a checker fails",
			checkers:   []Checker{healthy, broken},
			path:       "/check-deps",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"datafile": "up", "redis": "down: connection refused"},
		},
		{
			name:       "Should expose metrics on custom path",
			path:       "/telemetry",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Should not serve default paths",
			path:       "/metrics",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			srv := NewServer(nil, testConfig(), tt.checkers...)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			// Act
			srv.Handler().ServeHTTP(rec, req)

			// Assert
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != nil {
				var body struct {
					Status map[string]string `json:"status"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantBody, body.Status)
			}
		})
	}
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, testConfig())
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServer_StartReportsListenerErrors(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Port = strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)
	srv := NewServer(nil, cfg)

	select {
	case err := <-srv.Start():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected bind error")
	}
}
