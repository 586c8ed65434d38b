package decideapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Server runs the API with the configured timeouts and optional TLS.
type Server struct {
	logger *slog.Logger
	cfg    *config.DecideServerConfig
	server *http.Server
}

// NewServer wraps handler in an http.Server built from cfg.
func NewServer(logger *slog.Logger, cfg *config.DecideServerConfig, handler http.Handler) *Server {
	validation.AssertNotNil(cfg, "decide server config")
	validation.AssertNotNil(handler, "handler")
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		logger: logger,
		cfg:    cfg,
		server: &http.Server{
			Addr:              cfg.Address(),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

// Start serves in a background goroutine. Fatal listener errors are sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting decide API server",
			slog.String("addr", s.server.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled),
		)

		var err error
		if s.cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping decide API server")
	return s.server.Shutdown(ctx)
}
