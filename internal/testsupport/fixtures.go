// Package testsupport provides shared fixtures, ephemeral containers (PostgreSQL,
// Redis) and Prometheus assertions for tests.
package testsupport

import (
	"github.com/rafaeljc/bifrost/internal/condition"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// Fixture identifiers shared across package tests.
const (
	BasicExperimentKey    = "basic_experiment"
	TargetedExperimentKey = "targeted_experiment"
	PausedExperimentKey   = "paused_experiment"
	LaunchedExperimentKey = "launched_experiment"
	FeatureExperimentKey  = "feature_experiment"
	GroupExperiment1Key   = "group_experiment_1"
	GroupExperiment2Key   = "group_experiment_2"

	MultiFeatureKey   = "multi_feature"
	RolloutFeatureKey = "rollout_feature"
	BareFeatureKey    = "bare_feature"

	PurchaseEventKey = "purchase"
	UnusedEventKey   = "unused"

	WhitelistedUser = "whitelisted_user"
	GhostUser       = "ghost_user"
)

// ProjectSource returns a small but complete project: plain, targeted, paused
// and launched experiments, a random mutex group, feature flags backed by an
// experiment and a two-rule rollout, and a conversion event.
func ProjectSource() projectconfig.Source {
	return projectconfig.Source{
		AccountID: "12001",
		ProjectID: "111001",
		Revision:  "42",
		Version:   "4",

		Attributes: []projectconfig.Attribute{
			{ID: "attr_browser", Key: "browser_type"},
			{ID: "attr_device", Key: "device"},
		},

		Audiences: []projectconfig.Audience{
			{
				ID:         "aud_firefox",
				Key:        "firefox_users",
				Conditions: condition.Or(condition.Leaf("browser_type", condition.MatchCustomAttribute, "firefox")),
			},
			{
				ID:         "aud_mobile",
				Key:        "mobile_users",
				Conditions: condition.And(condition.Leaf("device", condition.MatchCustomAttribute, "mobile")),
			},
		},

		Experiments: []projectconfig.Experiment{
			{
				ID:      "exp_basic",
				Key:     BasicExperimentKey,
				LayerID: "layer_basic",
				Status:  projectconfig.StatusRunning,
				Variations: []projectconfig.Variation{
					{ID: "var_control", Key: "control"},
					{ID: "var_treatment", Key: "treatment"},
				},
				ForcedVariations: map[string]string{
					WhitelistedUser: "treatment",
					GhostUser:       "missing_variation",
				},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "var_control", EndOfRange: 5000},
					{EntityID: "var_treatment", EndOfRange: 10000},
				},
			},
			{
				ID:          "exp_targeted",
				Key:         TargetedExperimentKey,
				Status:      projectconfig.StatusRunning,
				AudienceIDs: []string{"aud_firefox"},
				Variations:  []projectconfig.Variation{{ID: "var_targeted", Key: "targeted"}},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "var_targeted", EndOfRange: 10000},
				},
			},
			{
				ID:         "exp_paused",
				Key:        PausedExperimentKey,
				Status:     projectconfig.StatusPaused,
				Variations: []projectconfig.Variation{{ID: "var_paused", Key: "paused"}},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "var_paused", EndOfRange: 10000},
				},
			},
			{
				ID:         "exp_launched",
				Key:        LaunchedExperimentKey,
				Status:     projectconfig.StatusLaunched,
				Variations: []projectconfig.Variation{{ID: "var_launched", Key: "launched"}},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "var_launched", EndOfRange: 10000},
				},
			},
			{
				ID:          "exp_feature",
				Key:         FeatureExperimentKey,
				Status:      projectconfig.StatusRunning,
				AudienceIDs: []string{"aud_mobile"},
				Variations: []projectconfig.Variation{
					{
						ID:             "var_feature_on",
						Key:            "feature_on",
						FeatureEnabled: true,
						VariableUsages: []projectconfig.VariableUsage{
							{ID: "fv_color", Value: "red"},
							{ID: "fv_count", Value: "7"},
							{ID: "fv_ratio", Value: "not-a-number"},
							{ID: "fv_beta", Value: "TRUE"},
						},
					},
				},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "var_feature_on", EndOfRange: 10000},
				},
			},
		},

		Groups: []projectconfig.Group{
			{
				ID:     "grp_mutex",
				Policy: projectconfig.GroupPolicyRandom,
				Experiments: []projectconfig.Experiment{
					{
						ID:         "exp_group_1",
						Key:        GroupExperiment1Key,
						Status:     projectconfig.StatusRunning,
						Variations: []projectconfig.Variation{{ID: "var_group_1", Key: "group_1"}},
						TrafficAllocation: []projectconfig.TrafficAllocation{
							{EntityID: "var_group_1", EndOfRange: 10000},
						},
					},
					{
						ID:         "exp_group_2",
						Key:        GroupExperiment2Key,
						Status:     projectconfig.StatusRunning,
						Variations: []projectconfig.Variation{{ID: "var_group_2", Key: "group_2"}},
						TrafficAllocation: []projectconfig.TrafficAllocation{
							{EntityID: "var_group_2", EndOfRange: 10000},
						},
					},
				},
				TrafficAllocation: []projectconfig.TrafficAllocation{
					{EntityID: "exp_group_1", EndOfRange: 5000},
					{EntityID: "exp_group_2", EndOfRange: 10000},
				},
			},
		},

		FeatureFlags: []projectconfig.FeatureFlag{
			{
				ID:            "feat_multi",
				Key:           MultiFeatureKey,
				RolloutID:     "rollout_1",
				ExperimentIDs: []string{"exp_feature"},
				Variables: []projectconfig.FeatureVariable{
					{ID: "fv_color", Key: "color", Type: projectconfig.VariableString, DefaultValue: "blue"},
					{ID: "fv_count", Key: "count", Type: projectconfig.VariableInteger, DefaultValue: "1"},
					{ID: "fv_ratio", Key: "ratio", Type: projectconfig.VariableDouble, DefaultValue: "0.5"},
					{ID: "fv_beta", Key: "beta", Type: projectconfig.VariableBoolean, DefaultValue: "false"},
				},
			},
			{
				ID:        "feat_rollout",
				Key:       RolloutFeatureKey,
				RolloutID: "rollout_1",
			},
			{
				ID:  "feat_bare",
				Key: BareFeatureKey,
			},
		},

		Rollouts: []projectconfig.Rollout{
			{
				ID: "rollout_1",
				Experiments: []projectconfig.Experiment{
					{
						ID:          "rule_firefox",
						Key:         "rollout_rule_firefox",
						Status:      projectconfig.StatusRunning,
						AudienceIDs: []string{"aud_firefox"},
						Variations:  []projectconfig.Variation{{ID: "var_rule_firefox", Key: "firefox_on", FeatureEnabled: true}},
						TrafficAllocation: []projectconfig.TrafficAllocation{
							{EntityID: "var_rule_firefox", EndOfRange: 10000},
						},
					},
					{
						ID:         "rule_everyone",
						Key:        "rollout_rule_everyone",
						Status:     projectconfig.StatusRunning,
						Variations: []projectconfig.Variation{{ID: "var_rule_everyone", Key: "everyone_off", FeatureEnabled: false}},
						TrafficAllocation: []projectconfig.TrafficAllocation{
							{EntityID: "var_rule_everyone", EndOfRange: 10000},
						},
					},
				},
			},
		},

		Events: []projectconfig.EventType{
			{ID: "evt_purchase", Key: PurchaseEventKey, ExperimentIDs: []string{"exp_basic", "exp_paused", "exp_targeted", "exp_missing"}},
			{ID: "evt_unused", Key: UnusedEventKey},
		},
	}
}

// ProjectConfig builds a fresh ProjectConfig from ProjectSource.
func ProjectConfig() *projectconfig.ProjectConfig {
	return projectconfig.New(ProjectSource(), nil)
}
