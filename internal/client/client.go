// Package client is the entry point host applications use to obtain
// decisions. It validates input, filters attributes, resolves keys and emits
// decision facts to a Listener.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/errorhandler"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
	"github.com/rafaeljc/bifrost/internal/userprofile"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Input errors. They are returned to the caller but not reported to the error handler.
var (
	ErrInvalidUserID        = errors.New("user id must not be empty")
	ErrInvalidKey           = errors.New("key must not be empty")
	ErrVariableTypeMismatch = errors.New("feature variable type mismatch")
	ErrInvalidVariableValue = errors.New("feature variable value cannot be parsed")
)

// Options carries the optional collaborators of a Client.
type Options struct {
	// ErrorHandler receives unknown-key and storage errors. Defaults to NoOp.
	ErrorHandler errorhandler.Handler
	// Profiles enables sticky bucketing when set.
	Profiles userprofile.Service
	// Listener receives impressions and conversions. Defaults to NopListener.
	Listener Listener
	// Now overrides the clock used to timestamp facts.
	Now func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	config    *projectconfig.ProjectConfig
	decisions *decision.Service
	errors    errorhandler.Handler
	listener  Listener
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Client over config. It panics if config is nil.
func New(logger *slog.Logger, config *projectconfig.ProjectConfig, opts Options) *Client {
	validation.AssertNotNil(config, "project config")
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = errorhandler.NoOp{}
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		config:    config,
		decisions: decision.New(logger, config, nil, opts.ErrorHandler, opts.Profiles),
		errors:    opts.ErrorHandler,
		listener:  opts.Listener,
		logger:    logger,
		now:       opts.Now,
	}
}

// Config returns the project config the client decides against.
func (c *Client) Config() *projectconfig.ProjectConfig {
	return c.config
}

// Activate decides the variation and, for running experiments, emits an impression.
// A nil variation with a nil error means the user is not in the experiment.
func (c *Client) Activate(ctx context.Context, experimentKey, userID string, attributes map[string]string) (*projectconfig.Variation, error) {
	exp, filtered, err := c.prepareExperiment(experimentKey, userID, attributes)
	if err != nil {
		return nil, err
	}

	variation := c.decisions.GetVariation(ctx, exp, userID, filtered)
	if variation == nil {
		c.logger.Info("not activating user", slog.String("experiment_key", experimentKey), slog.String("user_id", userID))
		return nil, nil
	}

	c.emitImpression(ctx, exp, variation, decision.SourceExperiment, userID, filtered)
	return variation, nil
}

// GetVariation decides the variation without emitting anything.
func (c *Client) GetVariation(ctx context.Context, experimentKey, userID string, attributes map[string]string) (*projectconfig.Variation, error) {
	exp, filtered, err := c.prepareExperiment(experimentKey, userID, attributes)
	if err != nil {
		return nil, err
	}
	return c.decisions.GetVariation(ctx, exp, userID, filtered), nil
}

func (c *Client) prepareExperiment(experimentKey, userID string, attributes map[string]string) (*projectconfig.Experiment, map[string]string, error) {
	if err := c.validateUserID(userID); err != nil {
		return nil, nil, err
	}
	if err := c.validateKey("experiment", experimentKey); err != nil {
		return nil, nil, err
	}

	exp, err := c.config.ExperimentByKey(experimentKey)
	if err != nil {
		c.logger.Error("experiment not in datafile", slog.String("experiment_key", experimentKey))
		c.errors.HandleError(err)
		return nil, nil, err
	}

	return exp, c.filterAttributes(attributes), nil
}

// IsFeatureEnabled reports whether the decided variation enables the feature.
// Impressions are only emitted for decisions coming from an experiment.
func (c *Client) IsFeatureEnabled(ctx context.Context, featureKey, userID string, attributes map[string]string) (bool, error) {
	flag, filtered, err := c.prepareFeature(featureKey, userID, attributes)
	if err != nil {
		return false, err
	}
	return c.isFeatureEnabled(ctx, flag, userID, filtered), nil
}

func (c *Client) isFeatureEnabled(ctx context.Context, flag *projectconfig.FeatureFlag, userID string, attributes map[string]string) bool {
	d := c.decisions.GetVariationForFeature(ctx, flag, userID, attributes)
	if d.IsEmpty() {
		c.logger.Info("feature is not enabled for user", slog.String("feature_key", flag.Key), slog.String("user_id", userID))
		return false
	}

	if d.Source == decision.SourceExperiment {
		c.emitImpression(ctx, d.Experiment, d.Variation, d.Source, userID, attributes)
	} else {
		c.logger.Info("user is in a rollout, not emitting impression",
			slog.String("feature_key", flag.Key),
			slog.String("user_id", userID),
		)
	}

	c.logger.Info("feature decided for user",
		slog.String("feature_key", flag.Key),
		slog.String("user_id", userID),
		slog.Bool("enabled", d.Variation.FeatureEnabled),
	)
	return d.Variation.FeatureEnabled
}

// GetEnabledFeatures returns the keys of all enabled features in datafile order.
func (c *Client) GetEnabledFeatures(ctx context.Context, userID string, attributes map[string]string) ([]string, error) {
	if err := c.validateUserID(userID); err != nil {
		return nil, err
	}

	filtered := c.filterAttributes(attributes)
	enabled := make([]string, 0)
	for _, flag := range c.config.FeatureFlags() {
		if c.isFeatureEnabled(ctx, flag, userID, filtered) {
			enabled = append(enabled, flag.Key)
		}
	}
	return enabled, nil
}

func (c *Client) prepareFeature(featureKey, userID string, attributes map[string]string) (*projectconfig.FeatureFlag, map[string]string, error) {
	if err := c.validateUserID(userID); err != nil {
		return nil, nil, err
	}
	if err := c.validateKey("feature", featureKey); err != nil {
		return nil, nil, err
	}

	flag, err := c.config.FeatureFlagByKey(featureKey)
	if err != nil {
		c.logger.Error("feature flag not in datafile", slog.String("feature_key", featureKey))
		c.errors.HandleError(err)
		return nil, nil, err
	}

	return flag, c.filterAttributes(attributes), nil
}

// Track emits a conversion for the running experiments attached to the event
// that the user is bucketed into.
func (c *Client) Track(ctx context.Context, eventKey, userID string, attributes map[string]string, tags map[string]any) error {
	if err := c.validateUserID(userID); err != nil {
		return err
	}
	if err := c.validateKey("event", eventKey); err != nil {
		return err
	}

	event, err := c.config.EventByKey(eventKey)
	if err != nil {
		c.logger.Error("event not in datafile", slog.String("event_key", eventKey))
		c.errors.HandleError(err)
		return err
	}

	filtered := c.filterAttributes(attributes)

	var assignments []Assignment
	for _, exp := range c.config.ExperimentsForEventKey(eventKey) {
		if !exp.IsRunning() {
			c.logger.Info("not tracking user for experiment that is not running",
				slog.String("experiment_key", exp.Key),
				slog.String("event_key", eventKey),
			)
			continue
		}
		if v := c.decisions.GetVariation(ctx, exp, userID, filtered); v != nil {
			assignments = append(assignments, Assignment{Experiment: exp, Variation: v})
		}
	}

	if len(assignments) == 0 {
		c.logger.Info("no valid experiments for event, not tracking",
			slog.String("event_key", eventKey),
			slog.String("user_id", userID),
		)
		return nil
	}

	conversion := Conversion{
		ID:          uuid.NewString(),
		Timestamp:   c.now(),
		UserID:      userID,
		Attributes:  filtered,
		Event:       event,
		Tags:        tags,
		Assignments: assignments,
	}
	if err := c.listener.OnConversion(ctx, conversion); err != nil {
		c.logger.Warn("listener failed to handle conversion", slog.String("event_key", eventKey), slog.Any("error", err))
	}
	observability.FactsEmittedTotal.WithLabelValues("conversion").Inc()

	c.logger.Info("tracked event",
		slog.String("event_key", eventKey),
		slog.String("user_id", userID),
		slog.Int("experiments", len(assignments)),
	)
	return nil
}

// SetForcedVariation pins a user to a variation. An empty variation key removes the pin.
func (c *Client) SetForcedVariation(experimentKey, userID, variationKey string) bool {
	return c.config.SetForcedVariation(experimentKey, userID, variationKey)
}

// GetForcedVariation returns the pinned variation, or nil.
func (c *Client) GetForcedVariation(experimentKey, userID string) *projectconfig.Variation {
	return c.config.GetForcedVariation(experimentKey, userID)
}

func (c *Client) emitImpression(
	ctx context.Context,
	exp *projectconfig.Experiment,
	variation *projectconfig.Variation,
	source decision.Source,
	userID string,
	attributes map[string]string,
) {
	if !exp.IsRunning() {
		c.logger.Info("experiment is launched, not emitting impression", slog.String("experiment_key", exp.Key))
		return
	}

	impression := Impression{
		ID:         uuid.NewString(),
		Timestamp:  c.now(),
		UserID:     userID,
		Attributes: attributes,
		Experiment: exp,
		Variation:  variation,
		Source:     source,
	}
	if err := c.listener.OnImpression(ctx, impression); err != nil {
		c.logger.Warn("listener failed to handle impression", slog.String("experiment_key", exp.Key), slog.Any("error", err))
	}
	observability.FactsEmittedTotal.WithLabelValues("impression").Inc()

	c.logger.Info("activating user in experiment",
		slog.String("experiment_key", exp.Key),
		slog.String("variation_key", variation.Key),
		slog.String("user_id", userID),
	)
}

func (c *Client) validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		c.logger.Error("user id must not be empty")
		return ErrInvalidUserID
	}
	return nil
}

func (c *Client) validateKey(kind, key string) error {
	if strings.TrimSpace(key) == "" {
		c.logger.Error("key must not be empty", slog.String("kind", kind))
		return fmt.Errorf("%s %w", kind, ErrInvalidKey)
	}
	return nil
}

// filterAttributes drops attributes that are neither declared in the
// datafile nor reserved.
func (c *Client) filterAttributes(attributes map[string]string) map[string]string {
	if attributes == nil {
		return nil
	}

	filtered := make(map[string]string, len(attributes))
	for key, value := range attributes {
		_, declared := c.config.AttributeByKey(key)
		if !declared && !strings.HasPrefix(key, decision.ReservedPrefix) {
			c.logger.Warn("attribute not in datafile, dropping it", slog.String("attribute_key", key))
			continue
		}
		filtered[key] = value
	}
	return filtered
}
