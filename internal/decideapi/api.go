// Package decideapi exposes the decision client over HTTP for services that
// cannot embed it.
package decideapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/client"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// API holds the router and the decision client it serves.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	client *client.Client
	logger *slog.Logger

	// apiKeyHash is the SHA-256 hash guarding the forced-variation endpoints.
	// Empty disables the check.
	apiKeyHash string

	maxBodyBytes int64
}

// NewAPI creates the API. It panics if the client or config is nil.
func NewAPI(logger *slog.Logger, c *client.Client, cfg *config.DecideServerConfig) *API {
	validation.AssertNotNil(c, "decision client")
	validation.AssertNotNil(cfg, "decide server config")
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		Router:       chi.NewRouter(),
		client:       c,
		logger:       logger,
		apiKeyHash:   cfg.APIKeyHash,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if api.apiKeyHash == "" {
		logger.Warn("decide API key hash not set, forced-variation endpoints are unauthenticated")
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestContext)
	a.Router.Use(RequestLogger)
	a.Router.Use(instrument)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.limitBody)

		r.Route("/experiments/{key}", func(r chi.Router) {
			r.Post("/activate", a.handleActivate)
			r.Post("/variation", a.handleGetVariation)

			r.Group(func(r chi.Router) {
				r.Use(a.authenticateAPIKey)
				r.Put("/forced-variations/{userID}", a.handleSetForcedVariation)
				r.Get("/forced-variations/{userID}", a.handleGetForcedVariation)
				r.Delete("/forced-variations/{userID}", a.handleDeleteForcedVariation)
			})
		})

		r.Route("/features", func(r chi.Router) {
			r.Post("/enabled", a.handleEnabledFeatures)
			r.Post("/{key}/enabled", a.handleIsFeatureEnabled)
			r.Post("/{key}/variables/{variable}", a.handleFeatureVariable)
		})

		r.Post("/events/{key}/track", a.handleTrack)
	})

	a.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "Route not found"})
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{
		"status":   "ok",
		"revision": a.client.Config().Revision(),
	})
}
