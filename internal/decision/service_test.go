package decision

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/errorhandler"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
	"github.com/rafaeljc/bifrost/internal/testsupport"
	"github.com/rafaeljc/bifrost/internal/userprofile"
)

// fakeProfiles is an in-memory userprofile.Service that records calls.
type fakeProfiles struct {
	mu        sync.Mutex
	stored    map[string]map[string]any
	lookupErr error
	saveErr   error
	saves     []map[string]any
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{stored: make(map[string]map[string]any)}
}

func (f *fakeProfiles) Lookup(_ context.Context, userID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.stored[userID], nil
}

func (f *fakeProfiles) Save(_ context.Context, profile map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, profile)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored[profile[userprofile.UserIDKey].(string)] = profile
	return nil
}

func (f *fakeProfiles) put(userID string, decisions map[string]string) {
	p := userprofile.New(userID)
	for expID, varID := range decisions {
		p.SetDecision(expID, varID)
	}
	f.stored[userID] = p.ToMap()
}

// errorSink collects errors passed to the handler.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) HandleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func experiment(t *testing.T, pc *projectconfig.ProjectConfig, key string) *projectconfig.Experiment {
	t.Helper()
	exp, err := pc.ExperimentByKey(key)
	require.NoError(t, err)
	return exp
}

func TestService_GetVariation_Precedence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Should return nil for inactive experiment even when forced", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		require.True(t, pc.SetForcedVariation(testsupport.PausedExperimentKey, "user", "paused"))
		svc := New(nil, pc, nil, nil, nil)

		assert.Nil(t, svc.GetVariation(ctx, experiment(t, pc, testsupport.PausedExperimentKey), "user", nil))
	})

	t.Run("Should serve launched experiments", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		svc := New(nil, pc, nil, nil, nil)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.LaunchedExperimentKey), "user", nil)
		require.NotNil(t, v)
		assert.Equal(t, "launched", v.Key)
	})

	t.Run("Should prefer forced variation over whitelist", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		require.True(t, pc.SetForcedVariation(testsupport.BasicExperimentKey, testsupport.WhitelistedUser, "control"))
		svc := New(nil, pc, nil, nil, nil)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), testsupport.WhitelistedUser, nil)
		assert.Equal(t, "control", v.Key)
	})

	t.Run("Should prefer whitelist over stored profile", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.put(testsupport.WhitelistedUser, map[string]string{"exp_basic": "var_control"})
		svc := New(nil, pc, nil, nil, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), testsupport.WhitelistedUser, nil)
		assert.Equal(t, "treatment", v.Key)
		assert.Empty(t, profiles.saves, "whitelisted decisions are not persisted")
	})

	t.Run("Should prefer stored profile over audience and bucketing", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.put("user", map[string]string{"exp_targeted": "var_targeted"})
		svc := New(nil, pc, nil, nil, profiles)

		// No attributes: the audience would exclude the user.
		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.TargetedExperimentKey), "user", nil)
		require.NotNil(t, v)
		assert.Equal(t, "targeted", v.Key)
		assert.Empty(t, profiles.saves)
	})
}

func TestService_GetVariation_WhitelistToMissingVariation(t *testing.T) {
	t.Parallel()

	// Arrange
	var buf bytes.Buffer
	pc := testsupport.ProjectConfig()
	svc := New(slog.New(slog.NewTextHandler(&buf, nil)), pc, nil, nil, nil)
	exp := experiment(t, pc, testsupport.BasicExperimentKey)

	// Act
	v := svc.GetVariation(context.Background(), exp, testsupport.GhostUser, nil)

	// Assert: the entry is ignored and the user is bucketed normally.
	require.NotNil(t, v)
	assert.Same(t, svc.bucketer.Bucket(exp, testsupport.GhostUser), v)
	assert.Contains(t, buf.String(), "whitelisted variation not found in experiment")
}

func TestService_GetVariation_Audiences(t *testing.T) {
	t.Parallel()

	pc := testsupport.ProjectConfig()
	svc := New(nil, pc, nil, nil, nil)
	exp := experiment(t, pc, testsupport.TargetedExperimentKey)

	tests := []struct {
		name       string
		attributes map[string]string
		wantKey    string
	}{
		{"Should exclude when attribute is missing", nil, ""},
		{"Should exclude when attribute does not match", map[string]string{"browser_type": "chrome"}, ""},
		{"Should include when attribute matches", map[string]string{"browser_type": "firefox"}, "targeted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := svc.GetVariation(context.Background(), exp, "user", tt.attributes)
			if tt.wantKey == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.wantKey, v.Key)
		})
	}
}

func vectorConfig() *projectconfig.ProjectConfig {
	return projectconfig.New(projectconfig.Source{
		Experiments: []projectconfig.Experiment{{
			ID:     "1886780721",
			Key:    "vector_experiment",
			Status: projectconfig.StatusRunning,
			Variations: []projectconfig.Variation{
				{ID: "var_low", Key: "low"},
				{ID: "var_high", Key: "high"},
			},
			TrafficAllocation: []projectconfig.TrafficAllocation{
				{EntityID: "var_low", EndOfRange: 5000},
				{EntityID: "var_high", EndOfRange: 10000},
			},
		}},
	}, nil)
}

func TestService_GetVariation_BucketingID(t *testing.T) {
	t.Parallel()

	pc := vectorConfig()
	svc := New(nil, pc, nil, nil, nil)
	exp := experiment(t, pc, "vector_experiment")

	// ppid1 hashes to 5254 and ppid2 to 4299 for this experiment id.
	assert.Equal(t, "high", svc.GetVariation(context.Background(), exp, "ppid1", nil).Key)
	assert.Equal(t, "low", svc.GetVariation(context.Background(), exp, "ppid2", nil).Key)
	assert.Equal(t, "low", svc.GetVariation(context.Background(), exp, "ppid1", map[string]string{AttributeBucketingID: "ppid2"}).Key)
}

func TestService_GetVariation_Deterministic(t *testing.T) {
	t.Parallel()

	pc := testsupport.ProjectConfig()
	svc := New(nil, pc, nil, nil, nil)
	exp := experiment(t, pc, testsupport.BasicExperimentKey)

	first := svc.GetVariation(context.Background(), exp, "user1", nil)
	require.NotNil(t, first)
	for range 20 {
		assert.Same(t, first, svc.GetVariation(context.Background(), exp, "user1", nil))
	}
}

func TestService_GetVariation_StickyBucketing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Should persist fresh decisions", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		svc := New(nil, pc, nil, nil, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)
		require.NotNil(t, v)
		require.Len(t, profiles.saves, 1)

		saved, ok := userprofile.FromMap(profiles.saves[0])
		require.True(t, ok)
		d, _ := saved.Decision("exp_basic")
		assert.Equal(t, v.ID, d.VariationID)

		// Second call is served from the profile and does not save again.
		assert.Same(t, v, svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil))
		assert.Len(t, profiles.saves, 1)
	})

	t.Run("Should re-bucket stale decisions and merge with other entries", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.put("user", map[string]string{
			"exp_basic":    "var_removed",
			"exp_targeted": "var_targeted",
		})
		sink := &errorSink{}
		svc := New(nil, pc, nil, sink, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)

		require.NotNil(t, v)
		require.Len(t, profiles.saves, 1)
		saved, ok := userprofile.FromMap(profiles.saves[0])
		require.True(t, ok)
		d, _ := saved.Decision("exp_basic")
		assert.Equal(t, v.ID, d.VariationID, "stale entry must be overwritten")
		other, _ := saved.Decision("exp_targeted")
		assert.Equal(t, "var_targeted", other.VariationID, "other experiments must be preserved")
		assert.Empty(t, sink.errs, "stale data is not an error")
	})

	t.Run("Should treat malformed profile as absent", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.stored["user"] = map[string]any{userprofile.UserIDKey: "user", userprofile.ExperimentBucketMapKey: "garbage"}
		svc := New(nil, pc, nil, nil, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)
		require.NotNil(t, v)
		require.Len(t, profiles.saves, 1)
		assert.True(t, userprofile.IsValidMap(profiles.saves[0]))
	})

	t.Run("Should report lookup failures and still decide", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.lookupErr = errors.New("redis down")
		sink := &errorSink{}
		svc := New(nil, pc, nil, sink, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)

		require.NotNil(t, v)
		require.Len(t, sink.errs, 1)
		assert.ErrorIs(t, sink.errs[0], profiles.lookupErr)
		assert.Len(t, profiles.saves, 1, "a fresh decision is still saved")
	})

	t.Run("Should report save failures and keep the decision", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.saveErr = errors.New("disk full")
		sink := &errorSink{}
		svc := New(nil, pc, nil, sink, profiles)

		v := svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)

		require.NotNil(t, v)
		require.Len(t, sink.errs, 1)
		assert.ErrorIs(t, sink.errs[0], profiles.saveErr)
	})

	t.Run("Should surface failures only through a panicking handler", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		profiles.saveErr = errors.New("disk full")
		svc := New(nil, pc, nil, errorhandler.Panic{}, profiles)

		assert.Panics(t, func() {
			svc.GetVariation(ctx, experiment(t, pc, testsupport.BasicExperimentKey), "user", nil)
		})
	})

	t.Run("Should not persist when user is excluded", func(t *testing.T) {
		t.Parallel()
		pc := testsupport.ProjectConfig()
		profiles := newFakeProfiles()
		svc := New(nil, pc, nil, nil, profiles)

		assert.Nil(t, svc.GetVariation(ctx, experiment(t, pc, testsupport.TargetedExperimentKey), "user", nil))
		assert.Empty(t, profiles.saves)
	})
}

func TestService_GetVariation_Metrics(t *testing.T) {
	pc := testsupport.ProjectConfig()
	require.True(t, pc.SetForcedVariation(testsupport.BasicExperimentKey, "metrics-user", "control"))
	svc := New(nil, pc, nil, nil, nil)
	exp := experiment(t, pc, testsupport.BasicExperimentKey)

	testsupport.AssertMetricDelta(t, "bifrost_decision_experiment_decisions_total",
		map[string]string{"path": "forced"}, 1, func() {
			svc.GetVariation(context.Background(), exp, "metrics-user", nil)
		})

	testsupport.AssertMetricDelta(t, "bifrost_decision_experiment_decisions_total",
		map[string]string{"path": "audience_mismatch"}, 1, func() {
			svc.GetVariation(context.Background(), experiment(t, pc, testsupport.TargetedExperimentKey), "metrics-user", nil)
		})
}

func TestBucketingID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user", BucketingID("user", nil))
	assert.Equal(t, "user", BucketingID("user", map[string]string{"other": "x"}))
	assert.Equal(t, "custom", BucketingID("user", map[string]string{AttributeBucketingID: "custom"}))
}

func TestNew_PanicsOnNilConfig(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(nil, nil, nil, nil, nil) })
}
