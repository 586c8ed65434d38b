// Package datafile decodes the JSON project datafile (versions 2, 3 and 4)
// into a projectconfig.ProjectConfig.
package datafile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// Supported datafile versions.
const (
	VersionV2 = "2"
	VersionV3 = "3"
	VersionV4 = "4"
)

var (
	// ErrUnsupportedVersion is returned for datafiles outside versions 2 to 4.
	ErrUnsupportedVersion = errors.New("unsupported datafile version")

	// ErrInvalidDatafile wraps every structural problem found while decoding.
	ErrInvalidDatafile = errors.New("invalid datafile")
)

// document mirrors the wire format. Sections introduced by later versions are
// ignored when the declared version predates them.
type document struct {
	Version      string `json:"version" validate:"required"`
	AccountID    string `json:"accountId" validate:"required"`
	ProjectID    string `json:"projectId" validate:"required"`
	Revision     string `json:"revision" validate:"required"`
	AnonymizeIP  bool   `json:"anonymizeIP"`
	BotFiltering bool   `json:"botFiltering"`

	Attributes   []attributeDoc   `json:"attributes" validate:"dive"`
	Audiences    []audienceDoc    `json:"audiences" validate:"dive"`
	Experiments  []experimentDoc  `json:"experiments" validate:"dive"`
	Events       []eventDoc       `json:"events" validate:"dive"`
	Groups       []groupDoc       `json:"groups" validate:"dive"`
	FeatureFlags []featureFlagDoc `json:"featureFlags" validate:"dive"`
	Rollouts     []rolloutDoc     `json:"rollouts" validate:"dive"`
}

type attributeDoc struct {
	ID  string `json:"id" validate:"required"`
	Key string `json:"key" validate:"required"`
}

type audienceDoc struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name"`
	Conditions string `json:"conditions" validate:"required"`
}

type trafficAllocationDoc struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange" validate:"min=0,max=10000"`
}

type variableUsageDoc struct {
	ID    string `json:"id" validate:"required"`
	Value string `json:"value"`
}

type variationDoc struct {
	ID             string             `json:"id" validate:"required"`
	Key            string             `json:"key" validate:"required"`
	FeatureEnabled bool               `json:"featureEnabled"`
	Variables      []variableUsageDoc `json:"variables" validate:"dive"`
}

type experimentDoc struct {
	ID                string                 `json:"id" validate:"required"`
	Key               string                 `json:"key" validate:"required"`
	Status            *string                `json:"status"`
	LayerID           string                 `json:"layerId"`
	AudienceIDs       []string               `json:"audienceIds"`
	Variations        []variationDoc         `json:"variations" validate:"dive"`
	ForcedVariations  map[string]string      `json:"forcedVariations"`
	TrafficAllocation []trafficAllocationDoc `json:"trafficAllocation" validate:"dive"`
}

type eventDoc struct {
	ID            string   `json:"id" validate:"required"`
	Key           string   `json:"key" validate:"required"`
	ExperimentIDs []string `json:"experimentIds"`
}

type groupDoc struct {
	ID                string                 `json:"id" validate:"required"`
	Policy            string                 `json:"policy" validate:"oneof=random overlapping"`
	Experiments       []experimentDoc        `json:"experiments" validate:"dive"`
	TrafficAllocation []trafficAllocationDoc `json:"trafficAllocation" validate:"dive"`
}

type variableDoc struct {
	ID           string `json:"id" validate:"required"`
	Key          string `json:"key" validate:"required"`
	Type         string `json:"type" validate:"oneof=boolean integer double string"`
	DefaultValue string `json:"defaultValue"`
}

type featureFlagDoc struct {
	ID            string        `json:"id" validate:"required"`
	Key           string        `json:"key" validate:"required"`
	RolloutID     string        `json:"rolloutId"`
	ExperimentIDs []string      `json:"experimentIds"`
	Variables     []variableDoc `json:"variables" validate:"dive"`
}

type rolloutDoc struct {
	ID          string          `json:"id" validate:"required"`
	Experiments []experimentDoc `json:"experiments" validate:"dive"`
}

// Load reads and parses the datafile at path.
func Load(path string, logger *slog.Logger) (*projectconfig.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read datafile %q: %w", path, err)
	}
	return Parse(data, logger)
}

// Parse decodes and validates a datafile. The logger is handed to the
// resulting ProjectConfig.
func Parse(data []byte, logger *slog.Logger) (*projectconfig.ProjectConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatafile, err)
	}

	switch doc.Version {
	case VersionV2, VersionV3, VersionV4:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, doc.Version)
	}

	if err := validator.New().Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatafile, err)
	}

	src, err := doc.source()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatafile, err)
	}

	logger.Info("datafile parsed",
		slog.String("version", doc.Version),
		slog.String("revision", doc.Revision),
		slog.Int("experiments", len(src.Experiments)),
		slog.Int("feature_flags", len(src.FeatureFlags)),
	)
	return projectconfig.New(src, logger), nil
}

func (d *document) source() (projectconfig.Source, error) {
	src := projectconfig.Source{
		AccountID: d.AccountID,
		ProjectID: d.ProjectID,
		Revision:  d.Revision,
		Version:   d.Version,
	}

	if d.Version != VersionV2 {
		src.AnonymizeIP = d.AnonymizeIP
	}

	for _, a := range d.Attributes {
		src.Attributes = append(src.Attributes, projectconfig.Attribute{ID: a.ID, Key: a.Key})
	}

	for _, a := range d.Audiences {
		cond, err := ParseConditions(a.Conditions)
		if err != nil {
			return src, fmt.Errorf("audience %q: %w", a.ID, err)
		}
		src.Audiences = append(src.Audiences, projectconfig.Audience{ID: a.ID, Key: a.Name, Conditions: cond})
	}

	src.Experiments = experiments(d.Experiments)

	for _, e := range d.Events {
		src.Events = append(src.Events, projectconfig.EventType{ID: e.ID, Key: e.Key, ExperimentIDs: e.ExperimentIDs})
	}

	for _, g := range d.Groups {
		src.Groups = append(src.Groups, projectconfig.Group{
			ID:                g.ID,
			Policy:            g.Policy,
			Experiments:       experiments(g.Experiments),
			TrafficAllocation: allocations(g.TrafficAllocation),
		})
	}

	if d.Version == VersionV4 {
		src.BotFiltering = d.BotFiltering

		for _, f := range d.FeatureFlags {
			flag := projectconfig.FeatureFlag{
				ID:            f.ID,
				Key:           f.Key,
				RolloutID:     f.RolloutID,
				ExperimentIDs: f.ExperimentIDs,
			}
			for _, v := range f.Variables {
				flag.Variables = append(flag.Variables, projectconfig.FeatureVariable{
					ID:           v.ID,
					Key:          v.Key,
					Type:         projectconfig.VariableType(v.Type),
					DefaultValue: v.DefaultValue,
				})
			}
			src.FeatureFlags = append(src.FeatureFlags, flag)
		}

		for _, r := range d.Rollouts {
			src.Rollouts = append(src.Rollouts, projectconfig.Rollout{ID: r.ID, Experiments: experiments(r.Experiments)})
		}
	}

	return src, nil
}

func experiments(docs []experimentDoc) []projectconfig.Experiment {
	out := make([]projectconfig.Experiment, 0, len(docs))
	for _, e := range docs {
		status := projectconfig.StatusNotStarted
		if e.Status != nil {
			status = projectconfig.ExperimentStatus(*e.Status)
		}

		exp := projectconfig.Experiment{
			ID:                e.ID,
			Key:               e.Key,
			LayerID:           e.LayerID,
			Status:            status,
			AudienceIDs:       e.AudienceIDs,
			ForcedVariations:  e.ForcedVariations,
			TrafficAllocation: allocations(e.TrafficAllocation),
		}
		for _, v := range e.Variations {
			variation := projectconfig.Variation{ID: v.ID, Key: v.Key, FeatureEnabled: v.FeatureEnabled}
			for _, u := range v.Variables {
				variation.VariableUsages = append(variation.VariableUsages, projectconfig.VariableUsage{ID: u.ID, Value: u.Value})
			}
			exp.Variations = append(exp.Variations, variation)
		}
		out = append(out, exp)
	}
	return out
}

func allocations(docs []trafficAllocationDoc) []projectconfig.TrafficAllocation {
	out := make([]projectconfig.TrafficAllocation, 0, len(docs))
	for _, a := range docs {
		out = append(out, projectconfig.TrafficAllocation{EntityID: a.EntityID, EndOfRange: a.EndOfRange})
	}
	return out
}
