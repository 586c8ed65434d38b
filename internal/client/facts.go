package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

// Impression describes an activation that an event builder can turn into an
// analytics payload.
type Impression struct {
	ID         string
	Timestamp  time.Time
	UserID     string
	Attributes map[string]string
	Experiment *projectconfig.Experiment
	Variation  *projectconfig.Variation
	Source     decision.Source
}

// Assignment pairs an experiment with the variation a user is in.
type Assignment struct {
	Experiment *projectconfig.Experiment
	Variation  *projectconfig.Variation
}

// Conversion describes a tracked event and the experiments it counts toward.
type Conversion struct {
	ID          string
	Timestamp   time.Time
	UserID      string
	Attributes  map[string]string
	Event       *projectconfig.EventType
	Tags        map[string]any
	Assignments []Assignment
}

// Listener receives decision facts. Errors are logged and never change the
// decision returned to the caller.
type Listener interface {
	OnImpression(ctx context.Context, impression Impression) error
	OnConversion(ctx context.Context, conversion Conversion) error
}

// NopListener drops every fact.
type NopListener struct{}

func (NopListener) OnImpression(context.Context, Impression) error { return nil }
func (NopListener) OnConversion(context.Context, Conversion) error { return nil }

// LogListener records facts as structured log lines. It is the default sink
// when no event pipeline is attached.
type LogListener struct {
	logger *slog.Logger
}

// NewLogListener creates a LogListener. A nil logger uses slog.Default().
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{logger: logger}
}

func (l *LogListener) OnImpression(ctx context.Context, i Impression) error {
	l.logger.InfoContext(ctx, "impression",
		slog.String("fact_id", i.ID),
		slog.Time("timestamp", i.Timestamp),
		slog.String("user_id", i.UserID),
		slog.String("experiment_id", i.Experiment.ID),
		slog.String("variation_id", i.Variation.ID),
		slog.String("source", string(i.Source)),
	)
	return nil
}

func (l *LogListener) OnConversion(ctx context.Context, c Conversion) error {
	experiments := make([]string, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		experiments = append(experiments, a.Experiment.ID+":"+a.Variation.ID)
	}
	l.logger.InfoContext(ctx, "conversion",
		slog.String("fact_id", c.ID),
		slog.Time("timestamp", c.Timestamp),
		slog.String("user_id", c.UserID),
		slog.String("event_key", c.Event.Key),
		slog.Any("assignments", experiments),
		slog.Int("tags", len(c.Tags)),
	)
	return nil
}
