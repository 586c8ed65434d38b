package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

// liveness answers 200 while the process can serve HTTP. It never consults
// dependencies so a flapping store does not get the pod restarted.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs the checkers concurrently under the configured timeout and
// answers 503 if any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make([]error, len(s.checkers))
	var wg sync.WaitGroup
	for i, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	status := http.StatusOK
	report := make(map[string]string, len(s.checkers))
	for i, c := range s.checkers {
		if err := results[i]; err != nil {
			s.logger.Warn("readiness check failed",
				slog.String("component", c.Name()),
				slog.String("error", err.Error()),
			)
			report[c.Name()] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[c.Name()] = "up"
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]any{"status": report})
}
