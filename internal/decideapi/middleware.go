package decideapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

// APIKeyHeader carries the key for protected endpoints.
const APIKeyHeader = "X-API-Key"

// requestContext attaches a request-scoped logger to the context.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := logger.WithContext(r.Context(), a.logger)
		ctx = logger.With(ctx, slog.String("request_id", reqID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs each completed request. Info for success, Warn for 4xx,
// Error for 5xx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.FromContext(r.Context()).Log(r.Context(), level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// instrument records request count and latency by route pattern so that
// path parameters do not explode label cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "not_found"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "/*") {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.DecideAPIReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.DecideAPIReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// limitBody caps request bodies at the configured size.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticateAPIKey compares the SHA-256 of the presented key with the
// configured hash in constant time.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			unauthorized(w, r, "Missing API key")
			return
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.apiKeyHash)) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid API key")
			unauthorized(w, r, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: msg})
}
