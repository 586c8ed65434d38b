// Package decision implements the precedence rules that turn an experiment or
// feature flag plus a user into a variation.
package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/condition"
	"github.com/rafaeljc/bifrost/internal/errorhandler"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
	"github.com/rafaeljc/bifrost/internal/userprofile"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Reserved attribute keys. Only the bucketing id changes decisions.
const (
	ReservedPrefix        = "$opt_"
	AttributeBucketingID  = "$opt_bucketing_id"
	AttributeBotFiltering = "$opt_bot_filtering"
	AttributeUserAgent    = "$opt_user_agent"
)

// Service makes decisions against one ProjectConfig. It holds no per-call
// state and is safe for concurrent use.
type Service struct {
	config   *projectconfig.ProjectConfig
	bucketer *bucketing.Bucketer
	errors   errorhandler.Handler
	profiles userprofile.Service
	logger   *slog.Logger
}

// New creates a decision service.
//
// A nil bucketer is built from config, a nil error handler discards errors
// and a nil profile service disables sticky bucketing. It panics if config is nil.
func New(
	logger *slog.Logger,
	config *projectconfig.ProjectConfig,
	bucketer *bucketing.Bucketer,
	errs errorhandler.Handler,
	profiles userprofile.Service,
) *Service {
	validation.AssertNotNil(config, "project config")
	if logger == nil {
		logger = slog.Default()
	}
	if bucketer == nil {
		bucketer = bucketing.New(config, logger)
	}
	if errs == nil {
		errs = errorhandler.NoOp{}
	}

	return &Service{
		config:   config,
		bucketer: bucketer,
		errors:   errs,
		profiles: profiles,
		logger:   logger,
	}
}

// GetVariation decides the variation of an experiment for a user, or returns nil.
//
// Precedence: inactive experiment, forced variation, whitelist, stored
// profile decision, audience targeting, then hashing. A fresh decision is
// saved to the profile service when one is configured.
func (s *Service) GetVariation(ctx context.Context, experiment *projectconfig.Experiment, userID string, attributes map[string]string) *projectconfig.Variation {
	log := s.logger.With(
		slog.String("experiment_key", experiment.Key),
		slog.String("user_id", userID),
	)

	if !experiment.IsActive() {
		log.Info("experiment is not running", slog.String("status", string(experiment.Status)))
		record(observability.PathInactive)
		return nil
	}

	if v := s.config.GetForcedVariation(experiment.Key, userID); v != nil {
		log.Info("user is forced into variation", slog.String("variation_key", v.Key))
		record(observability.PathForced)
		return v
	}

	if v := s.whitelistedVariation(log, experiment, userID); v != nil {
		record(observability.PathWhitelisted)
		return v
	}

	var profile *userprofile.UserProfile
	if s.profiles != nil {
		profile = s.lookupProfile(ctx, log, userID)
		if v := s.storedVariation(log, experiment, profile); v != nil {
			record(observability.PathSticky)
			return v
		}
	}

	if !s.audiencesMatch(log, experiment, attributes) {
		log.Info("user does not meet conditions to be in experiment")
		record(observability.PathAudienceMismatch)
		return nil
	}

	variation := s.bucketer.Bucket(experiment, BucketingID(userID, attributes))
	if variation == nil {
		record(observability.PathTrafficExcluded)
		return nil
	}
	record(observability.PathBucketed)

	if s.profiles != nil {
		s.saveVariation(ctx, log, experiment, variation, userID, profile)
	}

	return variation
}

// BucketingID returns the reserved bucketing id attribute when present,
// otherwise the user id.
func BucketingID(userID string, attributes map[string]string) string {
	if id, ok := attributes[AttributeBucketingID]; ok {
		return id
	}
	return userID
}

func record(path string) {
	observability.ExperimentDecisionsTotal.WithLabelValues(path).Inc()
}

// whitelistedVariation resolves the datafile whitelist. An entry pointing at a
// variation key missing from the experiment is logged and ignored.
func (s *Service) whitelistedVariation(log *slog.Logger, experiment *projectconfig.Experiment, userID string) *projectconfig.Variation {
	variationKey, ok := experiment.ForcedVariations[userID]
	if !ok {
		return nil
	}

	v := experiment.VariationByKey(variationKey)
	if v == nil {
		log.Error("whitelisted variation not found in experiment, ignoring entry",
			slog.String("variation_key", variationKey),
		)
		return nil
	}

	log.Info("user is whitelisted into variation", slog.String("variation_key", v.Key))
	return v
}

// lookupProfile fetches and validates the stored profile. Failures and
// malformed data both yield nil.
func (s *Service) lookupProfile(ctx context.Context, log *slog.Logger, userID string) *userprofile.UserProfile {
	raw, err := s.profiles.Lookup(ctx, userID)
	if err != nil {
		log.Error("failed to look up user profile", slog.Any("error", err))
		observability.ProfileFailuresTotal.WithLabelValues("lookup").Inc()
		s.errors.HandleError(fmt.Errorf("lookup user profile %q: %w", userID, err))
		return nil
	}

	if raw == nil {
		log.Debug("no user profile found")
		return nil
	}

	profile, ok := userprofile.FromMap(raw)
	if !ok {
		log.Warn("user profile is malformed, ignoring it")
		return nil
	}
	return profile
}

// storedVariation returns the sticky decision for the experiment when it still
// resolves in the current config.
func (s *Service) storedVariation(log *slog.Logger, experiment *projectconfig.Experiment, profile *userprofile.UserProfile) *projectconfig.Variation {
	if profile == nil {
		return nil
	}

	decision, ok := profile.Decision(experiment.ID)
	if !ok {
		return nil
	}

	v := experiment.VariationByID(decision.VariationID)
	if v == nil {
		log.Info("stored variation no longer exists, re-bucketing",
			slog.String("variation_id", decision.VariationID),
		)
		return nil
	}

	log.Info("returning previously activated variation", slog.String("variation_key", v.Key))
	return v
}

// saveVariation merges the decision into the profile and persists it.
// Errors are reported but never change the decision.
func (s *Service) saveVariation(
	ctx context.Context,
	log *slog.Logger,
	experiment *projectconfig.Experiment,
	variation *projectconfig.Variation,
	userID string,
	profile *userprofile.UserProfile,
) {
	if profile == nil {
		profile = userprofile.New(userID)
	} else {
		profile = profile.Clone()
	}
	profile.SetDecision(experiment.ID, variation.ID)

	if err := s.profiles.Save(ctx, profile.ToMap()); err != nil {
		log.Warn("failed to save user profile", slog.Any("error", err))
		observability.ProfileFailuresTotal.WithLabelValues("save").Inc()
		s.errors.HandleError(fmt.Errorf("save user profile %q: %w", userID, err))
		return
	}

	log.Info("saved variation to user profile", slog.String("variation_key", variation.Key))
}

// audiencesMatch ORs the experiment audiences. No audiences means everyone
// qualifies. Audiences missing from the config never match.
func (s *Service) audiencesMatch(log *slog.Logger, experiment *projectconfig.Experiment, attributes map[string]string) bool {
	if len(experiment.AudienceIDs) == 0 {
		return true
	}

	for _, id := range experiment.AudienceIDs {
		audience, err := s.config.AudienceByID(id)
		if err != nil {
			log.Warn("experiment references unknown audience", slog.String("audience_id", id))
			continue
		}

		result := audience.Evaluate(attributes)
		log.Debug("evaluated audience",
			slog.String("audience_key", audience.Key),
			slog.String("result", result.String()),
		)
		if result == condition.True {
			return true
		}
	}
	return false
}
