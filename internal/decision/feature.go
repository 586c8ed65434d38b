package decision

import (
	"context"
	"log/slog"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// Source tells where a feature decision came from.
type Source string

const (
	SourceExperiment Source = "experiment"
	SourceRollout    Source = "rollout"
)

// FeatureDecision is the outcome of a feature flag decision.
// The zero value means no decision.
type FeatureDecision struct {
	Experiment *projectconfig.Experiment
	Variation  *projectconfig.Variation
	Source     Source
}

// IsEmpty reports whether no variation was decided.
func (d FeatureDecision) IsEmpty() bool {
	return d.Variation == nil
}

// GetVariationForFeature tries the flag's experiments in order and falls back
// to its rollout.
func (s *Service) GetVariationForFeature(ctx context.Context, flag *projectconfig.FeatureFlag, userID string, attributes map[string]string) FeatureDecision {
	log := s.logger.With(
		slog.String("feature_key", flag.Key),
		slog.String("user_id", userID),
	)

	for _, experimentID := range flag.ExperimentIDs {
		experiment, err := s.config.ExperimentByID(experimentID)
		if err != nil {
			log.Error("feature references unknown experiment", slog.String("experiment_id", experimentID))
			s.errors.HandleError(err)
			continue
		}

		if v := s.GetVariation(ctx, experiment, userID, attributes); v != nil {
			log.Info("user is in experiment of feature",
				slog.String("experiment_key", experiment.Key),
				slog.String("variation_key", v.Key),
			)
			observability.FeatureDecisionsTotal.WithLabelValues(string(SourceExperiment)).Inc()
			return FeatureDecision{Experiment: experiment, Variation: v, Source: SourceExperiment}
		}
	}

	if len(flag.ExperimentIDs) > 0 {
		log.Info("user is not in any experiment of feature")
	}

	decision := s.GetVariationForFeatureInRollout(flag, userID, attributes)
	if decision.IsEmpty() {
		observability.FeatureDecisionsTotal.WithLabelValues("none").Inc()
	} else {
		observability.FeatureDecisionsTotal.WithLabelValues(string(SourceRollout)).Inc()
	}
	return decision
}

// GetVariationForFeatureInRollout walks the rollout rules.
//
// Targeted rules are tried in order. When the user matches a rule's audience
// but falls outside its traffic, the remaining targeted rules are skipped and
// only the last (catch-all) rule is tried.
func (s *Service) GetVariationForFeatureInRollout(flag *projectconfig.FeatureFlag, userID string, attributes map[string]string) FeatureDecision {
	log := s.logger.With(
		slog.String("feature_key", flag.Key),
		slog.String("user_id", userID),
	)

	if flag.RolloutID == "" {
		log.Info("feature is not used in a rollout")
		return FeatureDecision{}
	}

	rollout, err := s.config.RolloutByID(flag.RolloutID)
	if err != nil {
		log.Error("feature references unknown rollout", slog.String("rollout_id", flag.RolloutID))
		s.errors.HandleError(err)
		return FeatureDecision{}
	}

	if len(rollout.Experiments) == 0 {
		log.Warn("rollout has no rules", slog.String("rollout_id", rollout.ID))
		return FeatureDecision{}
	}

	bucketingID := BucketingID(userID, attributes)
	last := len(rollout.Experiments) - 1

	for i := 0; i < last; i++ {
		rule := &rollout.Experiments[i]
		ruleLog := log.With(slog.String("rule_key", rule.Key))

		if !s.audiencesMatch(ruleLog, rule, attributes) {
			ruleLog.Debug("user does not meet conditions for targeting rule")
			continue
		}

		if v := s.bucketer.Bucket(rule, bucketingID); v != nil {
			ruleLog.Info("user is in targeting rule", slog.String("variation_key", v.Key))
			return FeatureDecision{Experiment: rule, Variation: v, Source: SourceRollout}
		}

		ruleLog.Info("user is excluded by targeting rule traffic, evaluating everyone else rule")
		break
	}

	everyone := &rollout.Experiments[last]
	if s.audiencesMatch(log, everyone, attributes) {
		if v := s.bucketer.Bucket(everyone, bucketingID); v != nil {
			log.Info("user is in everyone else rule", slog.String("variation_key", v.Key))
			return FeatureDecision{Experiment: everyone, Variation: v, Source: SourceRollout}
		}
	}

	log.Info("user is not in any rollout rule")
	return FeatureDecision{}
}
