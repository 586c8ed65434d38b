// Package projectconfig holds the immutable, indexed view of a parsed datafile
// plus the runtime table of forced variations.
package projectconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Lookup errors.
var (
	ErrUnknownExperiment = errors.New("unknown experiment")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrUnknownFeature    = errors.New("unknown feature flag")
	ErrUnknownVariable   = errors.New("unknown feature variable")
	ErrUnknownRollout    = errors.New("unknown rollout")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrUnknownAudience   = errors.New("unknown audience")
)

// Source is the parsed content used to build a ProjectConfig.
type Source struct {
	AccountID    string
	ProjectID    string
	Revision     string
	Version      string
	AnonymizeIP  bool
	BotFiltering bool

	Attributes   []Attribute
	Audiences    []Audience
	Experiments  []Experiment
	Events       []EventType
	FeatureFlags []FeatureFlag
	Groups       []Group
	Rollouts     []Rollout
}

type forcedKey struct {
	userID       string
	experimentID string
}

// ProjectConfig is safe for concurrent use. Entities are never mutated after New;
// only the forced-variation table changes at runtime.
type ProjectConfig struct {
	accountID    string
	projectID    string
	revision     string
	version      string
	anonymizeIP  bool
	botFiltering bool

	attributes   []Attribute
	audiences    []Audience
	experiments  []Experiment
	events       []EventType
	featureFlags []FeatureFlag
	groups       []Group
	rollouts     []Rollout

	attributesByKey       map[string]*Attribute
	audiencesByID         map[string]*Audience
	experimentsByID       map[string]*Experiment
	experimentsByKey      map[string]*Experiment
	experimentByVariation map[string]*Experiment
	eventsByKey           map[string]*EventType
	featuresByKey         map[string]*FeatureFlag
	groupsByID            map[string]*Group
	rolloutsByID          map[string]*Rollout

	// forced maps forcedKey to a variation id.
	forced sync.Map

	logger *slog.Logger
}

// New indexes the source. Experiments nested in groups are flattened into the
// experiment collection with their GroupID set. The source slices are copied.
func New(src Source, logger *slog.Logger) *ProjectConfig {
	if logger == nil {
		logger = slog.Default()
	}

	pc := &ProjectConfig{
		accountID:    src.AccountID,
		projectID:    src.ProjectID,
		revision:     src.Revision,
		version:      src.Version,
		anonymizeIP:  src.AnonymizeIP,
		botFiltering: src.BotFiltering,

		attributes:   slices.Clone(src.Attributes),
		audiences:    slices.Clone(src.Audiences),
		events:       slices.Clone(src.Events),
		featureFlags: slices.Clone(src.FeatureFlags),
		rollouts:     slices.Clone(src.Rollouts),
		groups:       make([]Group, len(src.Groups)),

		logger: logger,
	}

	experiments := slices.Clone(src.Experiments)
	for i, g := range src.Groups {
		g.Experiments = slices.Clone(g.Experiments)
		for j := range g.Experiments {
			g.Experiments[j].GroupID = g.ID
		}
		pc.groups[i] = g
		experiments = append(experiments, g.Experiments...)
	}
	pc.experiments = experiments

	pc.buildIndexes()
	return pc
}

func (pc *ProjectConfig) buildIndexes() {
	pc.attributesByKey = make(map[string]*Attribute, len(pc.attributes))
	for i := range pc.attributes {
		a := &pc.attributes[i]
		if _, dup := pc.attributesByKey[a.Key]; dup {
			pc.logger.Warn("duplicate attribute key", slog.String("attribute_key", a.Key))
			continue
		}
		pc.attributesByKey[a.Key] = a
	}

	pc.audiencesByID = make(map[string]*Audience, len(pc.audiences))
	for i := range pc.audiences {
		pc.audiencesByID[pc.audiences[i].ID] = &pc.audiences[i]
	}

	pc.experimentsByID = make(map[string]*Experiment, len(pc.experiments))
	pc.experimentsByKey = make(map[string]*Experiment, len(pc.experiments))
	pc.experimentByVariation = make(map[string]*Experiment)
	for i := range pc.experiments {
		e := &pc.experiments[i]
		if _, dup := pc.experimentsByKey[e.Key]; dup {
			pc.logger.Warn("duplicate experiment key", slog.String("experiment_key", e.Key))
			continue
		}
		pc.experimentsByID[e.ID] = e
		pc.experimentsByKey[e.Key] = e
		for _, v := range e.Variations {
			pc.experimentByVariation[v.ID] = e
		}
	}

	pc.eventsByKey = make(map[string]*EventType, len(pc.events))
	for i := range pc.events {
		pc.eventsByKey[pc.events[i].Key] = &pc.events[i]
	}

	pc.featuresByKey = make(map[string]*FeatureFlag, len(pc.featureFlags))
	for i := range pc.featureFlags {
		pc.featuresByKey[pc.featureFlags[i].Key] = &pc.featureFlags[i]
	}

	pc.groupsByID = make(map[string]*Group, len(pc.groups))
	for i := range pc.groups {
		pc.groupsByID[pc.groups[i].ID] = &pc.groups[i]
	}

	pc.rolloutsByID = make(map[string]*Rollout, len(pc.rollouts))
	for i := range pc.rollouts {
		pc.rolloutsByID[pc.rollouts[i].ID] = &pc.rollouts[i]
	}
}

func (pc *ProjectConfig) AccountID() string  { return pc.accountID }
func (pc *ProjectConfig) ProjectID() string  { return pc.projectID }
func (pc *ProjectConfig) Revision() string   { return pc.revision }
func (pc *ProjectConfig) Version() string    { return pc.version }
func (pc *ProjectConfig) AnonymizeIP() bool  { return pc.anonymizeIP }
func (pc *ProjectConfig) BotFiltering() bool { return pc.botFiltering }

// ExperimentByKey resolves an experiment, including group members.
func (pc *ProjectConfig) ExperimentByKey(key string) (*Experiment, error) {
	if e, ok := pc.experimentsByKey[key]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: key %q", ErrUnknownExperiment, key)
}

// ExperimentByID resolves an experiment, including group members.
func (pc *ProjectConfig) ExperimentByID(id string) (*Experiment, error) {
	if e, ok := pc.experimentsByID[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnknownExperiment, id)
}

// ExperimentForVariationID returns the experiment owning the variation id.
func (pc *ProjectConfig) ExperimentForVariationID(variationID string) (*Experiment, error) {
	if e, ok := pc.experimentByVariation[variationID]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: no experiment owns variation %q", ErrUnknownExperiment, variationID)
}

// Experiments returns every experiment (including group members) in datafile order.
func (pc *ProjectConfig) Experiments() []*Experiment {
	out := make([]*Experiment, 0, len(pc.experiments))
	for i := range pc.experiments {
		out = append(out, &pc.experiments[i])
	}
	return out
}

// EventByKey resolves an event type.
func (pc *ProjectConfig) EventByKey(key string) (*EventType, error) {
	if ev, ok := pc.eventsByKey[key]; ok {
		return ev, nil
	}
	return nil, fmt.Errorf("%w: key %q", ErrUnknownEvent, key)
}

// ExperimentsForEventKey returns the experiments the event is attached to.
// Unknown events and dangling experiment ids yield no entries.
func (pc *ProjectConfig) ExperimentsForEventKey(eventKey string) []*Experiment {
	ev, ok := pc.eventsByKey[eventKey]
	if !ok {
		return nil
	}

	out := make([]*Experiment, 0, len(ev.ExperimentIDs))
	for _, id := range ev.ExperimentIDs {
		if e, ok := pc.experimentsByID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// FeatureFlagByKey resolves a feature flag.
func (pc *ProjectConfig) FeatureFlagByKey(key string) (*FeatureFlag, error) {
	if f, ok := pc.featuresByKey[key]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: key %q", ErrUnknownFeature, key)
}

// FeatureFlags returns every feature flag in datafile order.
func (pc *ProjectConfig) FeatureFlags() []*FeatureFlag {
	out := make([]*FeatureFlag, 0, len(pc.featureFlags))
	for i := range pc.featureFlags {
		out = append(out, &pc.featureFlags[i])
	}
	return out
}

// RolloutByID resolves a rollout.
func (pc *ProjectConfig) RolloutByID(id string) (*Rollout, error) {
	if r, ok := pc.rolloutsByID[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnknownRollout, id)
}

// GroupByID resolves a mutual exclusion group.
func (pc *ProjectConfig) GroupByID(id string) (*Group, error) {
	if g, ok := pc.groupsByID[id]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnknownGroup, id)
}

// AudienceByID resolves an audience.
func (pc *ProjectConfig) AudienceByID(id string) (*Audience, error) {
	if a, ok := pc.audiencesByID[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnknownAudience, id)
}

// AttributeByKey resolves a declared attribute.
func (pc *ProjectConfig) AttributeByKey(key string) (*Attribute, bool) {
	a, ok := pc.attributesByKey[key]
	return a, ok
}

// SetForcedVariation pins userID to variationKey in the experiment, overriding
// every other decision step. An empty variationKey removes the override.
//
// It returns false when the user id is blank, the experiment or variation
// cannot be resolved, or there was nothing to remove.
func (pc *ProjectConfig) SetForcedVariation(experimentKey, userID, variationKey string) bool {
	if strings.TrimSpace(userID) == "" {
		pc.logger.Error("user id is invalid for forced variation", slog.String("experiment_key", experimentKey))
		return false
	}

	exp, err := pc.ExperimentByKey(experimentKey)
	if err != nil {
		pc.logger.Error("cannot set forced variation", slog.String("experiment_key", experimentKey), slog.Any("error", err))
		return false
	}

	key := forcedKey{userID: userID, experimentID: exp.ID}

	if variationKey == "" {
		if _, removed := pc.forced.LoadAndDelete(key); removed {
			pc.logger.Info("removed forced variation",
				slog.String("experiment_key", experimentKey),
				slog.String("user_id", userID),
			)
			return true
		}
		pc.logger.Debug("no forced variation to remove",
			slog.String("experiment_key", experimentKey),
			slog.String("user_id", userID),
		)
		return false
	}

	variation := exp.VariationByKey(variationKey)
	if variation == nil {
		pc.logger.Error("variation not found in experiment",
			slog.String("experiment_key", experimentKey),
			slog.String("variation_key", variationKey),
		)
		return false
	}

	if previous, replaced := pc.forced.Swap(key, variation.ID); replaced {
		pc.logger.Info("replaced forced variation",
			slog.String("experiment_key", experimentKey),
			slog.String("user_id", userID),
			slog.Any("previous_variation_id", previous),
			slog.String("variation_key", variationKey),
		)
	} else {
		pc.logger.Info("set forced variation",
			slog.String("experiment_key", experimentKey),
			slog.String("user_id", userID),
			slog.String("variation_key", variationKey),
		)
	}
	return true
}

// GetForcedVariation returns the runtime override for the pair, or nil.
func (pc *ProjectConfig) GetForcedVariation(experimentKey, userID string) *Variation {
	if strings.TrimSpace(userID) == "" {
		return nil
	}

	exp, err := pc.ExperimentByKey(experimentKey)
	if err != nil {
		pc.logger.Debug("no forced variation for unknown experiment", slog.String("experiment_key", experimentKey))
		return nil
	}

	raw, ok := pc.forced.Load(forcedKey{userID: userID, experimentID: exp.ID})
	if !ok {
		return nil
	}

	variationID, _ := raw.(string)
	return exp.VariationByID(variationID)
}
