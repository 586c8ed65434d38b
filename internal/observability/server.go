package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Server exposes probes and metrics on a port separate from the decide API.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	server   *http.Server
	checkers []Checker
}

// NewServer creates the observability server. Checkers are run by the readiness probe.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	validation.AssertNotNil(cfg, "observability config")
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   r,
		checkers: checkers,
	}

	s.router.Get(s.cfg.LivenessPath, s.liveness)
	s.router.Get(s.cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.Handler())

	return s
}

// Handler returns the router, mainly for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a background goroutine. Listener failures other than a
// clean shutdown are logged and sent on the returned channel, which is closed
// when the server stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	s.server = &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       s.cfg.Timeout,
		ReadHeaderTimeout: s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       3 * s.cfg.Timeout,
	}

	go func() {
		defer close(errCh)

		s.logger.Info("starting observability server",
			slog.String("addr", s.server.Addr),
			slog.Int("checkers", len(s.checkers)),
		)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	return errCh
}

// Shutdown drains the server. It is a no-op if Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
