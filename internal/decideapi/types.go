package decideapi

import (
	"strings"

	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// DecideRequest is the body of every decision endpoint.
type DecideRequest struct {
	UserID     string            `json:"user_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks the fields the client cannot default.
func (r *DecideRequest) Validate() *ErrorResponse {
	if strings.TrimSpace(r.UserID) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "user_id is required",
			Details: []ErrorDetail{{Field: "user_id", Issue: "must not be blank"}},
		}
	}
	return nil
}

// TrackRequest carries a conversion.
type TrackRequest struct {
	DecideRequest
	Tags map[string]any `json:"tags,omitempty"`
}

// ForcedVariationRequest pins a user to a variation.
type ForcedVariationRequest struct {
	VariationKey string `json:"variation_key"`
}

// Validate rejects a blank key. Removal goes through DELETE.
func (r *ForcedVariationRequest) Validate() *ErrorResponse {
	if strings.TrimSpace(r.VariationKey) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "variation_key is required",
			Details: []ErrorDetail{{Field: "variation_key", Issue: "must not be blank"}},
		}
	}
	return nil
}

// VariationResponse is returned by activate and variation lookups.
// VariationKey is null when the user is not in the experiment.
type VariationResponse struct {
	ExperimentKey string  `json:"experiment_key"`
	UserID        string  `json:"user_id"`
	VariationKey  *string `json:"variation_key"`
}

// FeatureEnabledResponse reports a single feature decision.
type FeatureEnabledResponse struct {
	FeatureKey string `json:"feature_key"`
	UserID     string `json:"user_id"`
	Enabled    bool   `json:"enabled"`
}

// EnabledFeaturesResponse lists every feature enabled for a user.
type EnabledFeaturesResponse struct {
	UserID   string   `json:"user_id"`
	Features []string `json:"features"`
}

// VariableResponse carries a typed variable value.
type VariableResponse struct {
	FeatureKey  string                     `json:"feature_key"`
	VariableKey string                     `json:"variable_key"`
	Type        projectconfig.VariableType `json:"type"`
	Value       any                        `json:"value"`
}

// TrackResponse acknowledges a conversion.
type TrackResponse struct {
	EventKey string `json:"event_key"`
	Status   string `json:"status"`
}

// ForcedVariationResponse describes the pin for one user.
type ForcedVariationResponse struct {
	ExperimentKey string  `json:"experiment_key"`
	UserID        string  `json:"user_id"`
	VariationKey  *string `json:"variation_key"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func variationKey(v *projectconfig.Variation) *string {
	if v == nil {
		return nil
	}
	key := v.Key
	return &key
}
