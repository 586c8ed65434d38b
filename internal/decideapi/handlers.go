package decideapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/client"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// handleActivate processes POST /api/v1/experiments/{key}/activate.
func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	a.decideExperiment(w, r, a.client.Activate)
}

// handleGetVariation processes POST /api/v1/experiments/{key}/variation.
// Unlike activate it emits no impression.
func (a *API) handleGetVariation(w http.ResponseWriter, r *http.Request) {
	a.decideExperiment(w, r, a.client.GetVariation)
}

type experimentDecider func(ctx context.Context, experimentKey, userID string, attributes map[string]string) (*projectconfig.Variation, error)

func (a *API) decideExperiment(w http.ResponseWriter, r *http.Request, decide experimentDecider) {
	var req DecideRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	variation, err := decide(r.Context(), key, req.UserID, req.Attributes)
	if err != nil {
		renderClientError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VariationResponse{
		ExperimentKey: key,
		UserID:        req.UserID,
		VariationKey:  variationKey(variation),
	})
}

// handleIsFeatureEnabled processes POST /api/v1/features/{key}/enabled.
func (a *API) handleIsFeatureEnabled(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	enabled, err := a.client.IsFeatureEnabled(r.Context(), key, req.UserID, req.Attributes)
	if err != nil {
		renderClientError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, FeatureEnabledResponse{FeatureKey: key, UserID: req.UserID, Enabled: enabled})
}

// handleEnabledFeatures processes POST /api/v1/features/enabled.
func (a *API) handleEnabledFeatures(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	features, err := a.client.GetEnabledFeatures(r.Context(), req.UserID, req.Attributes)
	if err != nil {
		renderClientError(w, r, err)
		return
	}
	if features == nil {
		features = []string{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, EnabledFeaturesResponse{UserID: req.UserID, Features: features})
}

// handleFeatureVariable processes POST /api/v1/features/{key}/variables/{variable}.
// The optional ?type= query selects the typed getter; it defaults to the
// variable's declared type.
func (a *API) handleFeatureVariable(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	featureKey := chi.URLParam(r, "key")
	variableKey := chi.URLParam(r, "variable")

	typ := projectconfig.VariableType(r.URL.Query().Get("type"))
	if typ == "" {
		typ = a.declaredType(featureKey, variableKey)
	}

	ctx := r.Context()
	var (
		value any
		err   error
	)
	switch typ {
	case projectconfig.VariableBoolean:
		value, err = a.client.GetFeatureVariableBoolean(ctx, featureKey, variableKey, req.UserID, req.Attributes)
	case projectconfig.VariableInteger:
		value, err = a.client.GetFeatureVariableInteger(ctx, featureKey, variableKey, req.UserID, req.Attributes)
	case projectconfig.VariableDouble:
		value, err = a.client.GetFeatureVariableDouble(ctx, featureKey, variableKey, req.UserID, req.Attributes)
	case projectconfig.VariableString:
		value, err = a.client.GetFeatureVariableString(ctx, featureKey, variableKey, req.UserID, req.Attributes)
	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown variable type",
			Details: []ErrorDetail{{Field: "type", Issue: "must be one of boolean, integer, double, string"}},
		})
		return
	}
	if err != nil {
		renderClientError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VariableResponse{
		FeatureKey:  featureKey,
		VariableKey: variableKey,
		Type:        typ,
		Value:       value,
	})
}

// declaredType falls back to string when the feature or variable is unknown,
// leaving the client to report the miss.
func (a *API) declaredType(featureKey, variableKey string) projectconfig.VariableType {
	flag, err := a.client.Config().FeatureFlagByKey(featureKey)
	if err != nil {
		return projectconfig.VariableString
	}
	if v := flag.VariableByKey(variableKey); v != nil {
		return v.Type
	}
	return projectconfig.VariableString
}

// handleTrack processes POST /api/v1/events/{key}/track.
func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	if err := a.client.Track(r.Context(), key, req.UserID, req.Attributes, req.Tags); err != nil {
		renderClientError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, TrackResponse{EventKey: key, Status: "accepted"})
}

type validator interface {
	Validate() *ErrorResponse
}

// decodeRequest decodes and validates the JSON body, rendering the error
// response itself when it returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst validator) bool {
	log := logger.FromContext(r.Context())

	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_PAYLOAD_TOO_LARGE",
				Message: "Request body exceeds the configured limit",
			})
			return false
		}

		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}

	if errResp := dst.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return false
	}
	return true
}

// renderClientError maps client errors onto HTTP statuses.
func renderClientError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "ERR_INTERNAL"

	switch {
	case errors.Is(err, client.ErrInvalidUserID),
		errors.Is(err, client.ErrInvalidKey),
		errors.Is(err, client.ErrVariableTypeMismatch):
		status, code = http.StatusBadRequest, "ERR_INVALID_INPUT"
	case errors.Is(err, projectconfig.ErrUnknownExperiment),
		errors.Is(err, projectconfig.ErrUnknownEvent),
		errors.Is(err, projectconfig.ErrUnknownFeature),
		errors.Is(err, projectconfig.ErrUnknownVariable):
		status, code = http.StatusNotFound, "ERR_NOT_FOUND"
	case errors.Is(err, client.ErrInvalidVariableValue):
		status, code = http.StatusUnprocessableEntity, "ERR_INVALID_VARIABLE"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("decision failed", slog.String("error", err.Error()))
		message = "Internal error"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}
