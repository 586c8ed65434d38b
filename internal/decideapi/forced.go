package decideapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/logger"
)

// Forced variations live in process memory. Behind a load balancer every
// replica holds its own set.

// handleSetForcedVariation processes PUT /api/v1/experiments/{key}/forced-variations/{userID}.
func (a *API) handleSetForcedVariation(w http.ResponseWriter, r *http.Request) {
	experimentKey, userID, ok := a.forcedVariationTarget(w, r)
	if !ok {
		return
	}

	var req ForcedVariationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if !a.client.SetForcedVariation(experimentKey, userID, req.VariationKey) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Variation does not belong to experiment",
			Details: []ErrorDetail{{Field: "variation_key", Issue: "unknown variation"}},
		})
		return
	}

	logger.FromContext(r.Context()).Info("forced variation set",
		slog.String("experiment_key", experimentKey),
		slog.String("user_id", userID),
		slog.String("variation_key", req.VariationKey),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ForcedVariationResponse{
		ExperimentKey: experimentKey,
		UserID:        userID,
		VariationKey:  &req.VariationKey,
	})
}

// handleGetForcedVariation processes GET /api/v1/experiments/{key}/forced-variations/{userID}.
func (a *API) handleGetForcedVariation(w http.ResponseWriter, r *http.Request) {
	experimentKey, userID, ok := a.forcedVariationTarget(w, r)
	if !ok {
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ForcedVariationResponse{
		ExperimentKey: experimentKey,
		UserID:        userID,
		VariationKey:  variationKey(a.client.GetForcedVariation(experimentKey, userID)),
	})
}

// handleDeleteForcedVariation processes DELETE /api/v1/experiments/{key}/forced-variations/{userID}.
func (a *API) handleDeleteForcedVariation(w http.ResponseWriter, r *http.Request) {
	experimentKey, userID, ok := a.forcedVariationTarget(w, r)
	if !ok {
		return
	}

	a.client.SetForcedVariation(experimentKey, userID, "")

	logger.FromContext(r.Context()).Info("forced variation removed",
		slog.String("experiment_key", experimentKey),
		slog.String("user_id", userID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// forcedVariationTarget resolves the path parameters, rendering 404 for an
// unknown experiment.
func (a *API) forcedVariationTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	experimentKey := chi.URLParam(r, "key")
	userID := chi.URLParam(r, "userID")

	if _, err := a.client.Config().ExperimentByKey(experimentKey); err != nil {
		renderClientError(w, r, err)
		return "", "", false
	}
	return experimentKey, userID, true
}
