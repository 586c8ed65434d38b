package projectconfig

import (
	"github.com/rafaeljc/bifrost/internal/condition"
)

// ExperimentStatus is the lifecycle state of an experiment as published in the datafile.
type ExperimentStatus string

const (
	StatusRunning    ExperimentStatus = "Running"
	StatusLaunched   ExperimentStatus = "Launched"
	StatusPaused     ExperimentStatus = "Paused"
	StatusNotStarted ExperimentStatus = "Not started"
	StatusArchived   ExperimentStatus = "Archived"
)

// IsActive reports whether experiments in this state may serve variations.
func (s ExperimentStatus) IsActive() bool {
	return s == StatusRunning || s == StatusLaunched
}

// TrafficAllocation is one cumulative slice of the bucketing range.
// An empty EntityID marks a range that intentionally maps to nothing.
type TrafficAllocation struct {
	EntityID   string
	EndOfRange int
}

// VariableUsage overrides a feature variable's default value inside a variation.
type VariableUsage struct {
	ID    string
	Value string
}

// Variation is a treatment of an experiment.
type Variation struct {
	ID             string
	Key            string
	FeatureEnabled bool
	VariableUsages []VariableUsage
}

// VariableValue returns the override for the given variable id, if the variation declares one.
func (v *Variation) VariableValue(variableID string) (string, bool) {
	for _, u := range v.VariableUsages {
		if u.ID == variableID {
			return u.Value, true
		}
	}
	return "", false
}

// Experiment is an A/B test, a rollout rule, or a member of a mutual exclusion group.
type Experiment struct {
	ID      string
	Key     string
	LayerID string
	Status  ExperimentStatus

	// GroupID is set for experiments nested in a group.
	GroupID string

	AudienceIDs []string
	Variations  []Variation

	// ForcedVariations is the datafile whitelist (user id -> variation key).
	ForcedVariations map[string]string

	TrafficAllocation []TrafficAllocation
}

// IsActive reports whether the experiment is Running or Launched.
func (e *Experiment) IsActive() bool {
	return e.Status.IsActive()
}

// IsRunning reports whether the experiment is Running. Launched experiments
// serve variations but do not produce impressions.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// VariationByID returns the variation with the given id, or nil.
func (e *Experiment) VariationByID(id string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].ID == id {
			return &e.Variations[i]
		}
	}
	return nil
}

// VariationByKey returns the variation with the given key, or nil.
func (e *Experiment) VariationByKey(key string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].Key == key {
			return &e.Variations[i]
		}
	}
	return nil
}

// Group policies.
const (
	GroupPolicyRandom      = "random"
	GroupPolicyOverlapping = "overlapping"
)

// Group is a mutual exclusion group. Its traffic allocation maps ranges to member experiment ids.
type Group struct {
	ID                string
	Policy            string
	Experiments       []Experiment
	TrafficAllocation []TrafficAllocation
}

// Audience is a named condition tree.
type Audience struct {
	ID         string
	Key        string
	Conditions condition.Condition
}

// Evaluate runs the audience conditions against the attributes.
func (a *Audience) Evaluate(attributes map[string]string) condition.Result {
	return a.Conditions.Evaluate(attributes)
}

// Attribute is a declared user attribute.
type Attribute struct {
	ID  string
	Key string
}

// EventType is a conversion event and the experiments it is attached to.
type EventType struct {
	ID            string
	Key           string
	ExperimentIDs []string
}

// VariableType is the declared type of a feature variable.
type VariableType string

const (
	VariableBoolean VariableType = "boolean"
	VariableInteger VariableType = "integer"
	VariableDouble  VariableType = "double"
	VariableString  VariableType = "string"
)

// FeatureVariable is a typed value attached to a feature flag.
type FeatureVariable struct {
	ID           string
	Key          string
	Type         VariableType
	DefaultValue string
}

// FeatureFlag ties a set of experiments and an optional rollout to a feature key.
type FeatureFlag struct {
	ID            string
	Key           string
	RolloutID     string
	ExperimentIDs []string
	Variables     []FeatureVariable
}

// VariableByKey returns the variable with the given key, or nil.
func (f *FeatureFlag) VariableByKey(key string) *FeatureVariable {
	for i := range f.Variables {
		if f.Variables[i].Key == key {
			return &f.Variables[i]
		}
	}
	return nil
}

// Rollout is an ordered list of rules. The last rule is the catch-all.
type Rollout struct {
	ID          string
	Experiments []Experiment
}
