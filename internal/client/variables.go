package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// GetFeatureVariableBoolean returns a boolean variable. Any value other than
// "true" (case-insensitive) is false.
func (c *Client) GetFeatureVariableBoolean(ctx context.Context, featureKey, variableKey, userID string, attributes map[string]string) (bool, error) {
	raw, err := c.featureVariableValue(ctx, featureKey, variableKey, userID, attributes, projectconfig.VariableBoolean)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(raw, "true"), nil
}

// GetFeatureVariableInteger returns an integer variable.
func (c *Client) GetFeatureVariableInteger(ctx context.Context, featureKey, variableKey, userID string, attributes map[string]string) (int, error) {
	raw, err := c.featureVariableValue(ctx, featureKey, variableKey, userID, attributes, projectconfig.VariableInteger)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.logger.Error("feature variable is not an integer", slog.String("variable_key", variableKey), slog.String("value", raw))
		return 0, fmt.Errorf("%w: %q", ErrInvalidVariableValue, raw)
	}
	return n, nil
}

// GetFeatureVariableDouble returns a floating point variable.
func (c *Client) GetFeatureVariableDouble(ctx context.Context, featureKey, variableKey, userID string, attributes map[string]string) (float64, error) {
	raw, err := c.featureVariableValue(ctx, featureKey, variableKey, userID, attributes, projectconfig.VariableDouble)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.logger.Error("feature variable is not a double", slog.String("variable_key", variableKey), slog.String("value", raw))
		return 0, fmt.Errorf("%w: %q", ErrInvalidVariableValue, raw)
	}
	return f, nil
}

// GetFeatureVariableString returns a string variable.
func (c *Client) GetFeatureVariableString(ctx context.Context, featureKey, variableKey, userID string, attributes map[string]string) (string, error) {
	return c.featureVariableValue(ctx, featureKey, variableKey, userID, attributes, projectconfig.VariableString)
}

// featureVariableValue returns the variable's default value unless the
// decided variation overrides it.
func (c *Client) featureVariableValue(
	ctx context.Context,
	featureKey, variableKey, userID string,
	attributes map[string]string,
	want projectconfig.VariableType,
) (string, error) {
	if err := c.validateKey("variable", variableKey); err != nil {
		return "", err
	}

	flag, filtered, err := c.prepareFeature(featureKey, userID, attributes)
	if err != nil {
		return "", err
	}

	log := c.logger.With(
		slog.String("feature_key", featureKey),
		slog.String("variable_key", variableKey),
		slog.String("user_id", userID),
	)

	variable := flag.VariableByKey(variableKey)
	if variable == nil {
		err := fmt.Errorf("%w: %q in feature %q", projectconfig.ErrUnknownVariable, variableKey, featureKey)
		log.Error("variable not found in feature")
		c.errors.HandleError(err)
		return "", err
	}

	if variable.Type != want {
		log.Error("variable type mismatch",
			slog.String("declared_type", string(variable.Type)),
			slog.String("requested_type", string(want)),
		)
		return "", fmt.Errorf("%w: %s is %s, not %s", ErrVariableTypeMismatch, variableKey, variable.Type, want)
	}

	value := variable.DefaultValue

	d := c.decisions.GetVariationForFeature(ctx, flag, userID, filtered)
	if d.IsEmpty() {
		log.Info("user is not in any variation of feature, returning default value")
		return value, nil
	}

	if override, ok := d.Variation.VariableValue(variable.ID); ok {
		value = override
	} else {
		log.Info("variation does not override variable, returning default value",
			slog.String("variation_key", d.Variation.Key),
		)
	}
	return value, nil
}
