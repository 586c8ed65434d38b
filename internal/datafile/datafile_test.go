package datafile

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/condition"
	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/projectconfig"
)

func loadFixture(t *testing.T) *projectconfig.ProjectConfig {
	t.Helper()
	pc, err := Load(filepath.Join("testdata", "v4.json"), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	return pc
}

func TestLoad_V4(t *testing.T) {
	t.Parallel()
	pc := loadFixture(t)

	t.Run("Should expose project metadata", func(t *testing.T) {
		assert.Equal(t, "12001", pc.AccountID())
		assert.Equal(t, "3001", pc.ProjectID())
		assert.Equal(t, "42", pc.Revision())
		assert.Equal(t, "4", pc.Version())
		assert.True(t, pc.AnonymizeIP())
		assert.True(t, pc.BotFiltering())
	})

	t.Run("Should map experiments and whitelists", func(t *testing.T) {
		exp, err := pc.ExperimentByKey("checkout_test")
		require.NoError(t, err)
		assert.Equal(t, projectconfig.StatusRunning, exp.Status)
		assert.Equal(t, "layer_1", exp.LayerID)
		assert.Equal(t, "b", exp.ForcedVariations["qa_user"])
		require.Len(t, exp.TrafficAllocation, 2)
		assert.Equal(t, 5000, exp.TrafficAllocation[0].EndOfRange)
	})

	t.Run("Should default a null status to Not started", func(t *testing.T) {
		exp, err := pc.ExperimentByKey("targeted_test")
		require.NoError(t, err)
		assert.Equal(t, projectconfig.StatusNotStarted, exp.Status)
		assert.False(t, exp.IsActive())
	})

	t.Run("Should index group members with their group id", func(t *testing.T) {
		exp, err := pc.ExperimentByKey("grouped_test")
		require.NoError(t, err)
		assert.Equal(t, "grp_1", exp.GroupID)

		group, err := pc.GroupByID("grp_1")
		require.NoError(t, err)
		assert.Equal(t, projectconfig.GroupPolicyRandom, group.Policy)
	})

	t.Run("Should decode audiences into condition trees", func(t *testing.T) {
		aud, err := pc.AudienceByID("aud_firefox_desktop")
		require.NoError(t, err)
		assert.Equal(t, "Firefox on desktop", aud.Key)

		assert.Equal(t, condition.True, aud.Evaluate(map[string]string{"browser_type": "firefox", "device": "desktop"}))
		assert.Equal(t, condition.False, aud.Evaluate(map[string]string{"browser_type": "firefox", "device": "mobile"}))
		assert.Equal(t, condition.Unknown, aud.Evaluate(map[string]string{"browser_type": "firefox"}))
	})

	t.Run("Should map feature flags, variables and usages", func(t *testing.T) {
		flag, err := pc.FeatureFlagByKey("welcome_banner")
		require.NoError(t, err)
		assert.Equal(t, "rollout_welcome", flag.RolloutID)
		assert.Equal(t, []string{"exp_feature"}, flag.ExperimentIDs)

		variable := flag.VariableByKey("title")
		require.NotNil(t, variable)
		assert.Equal(t, projectconfig.VariableString, variable.Type)

		exp, err := pc.ExperimentByKey("feature_test")
		require.NoError(t, err)
		value, ok := exp.VariationByKey("on").VariableValue("fv_title")
		assert.True(t, ok)
		assert.Equal(t, "Welcome back", value)
	})

	t.Run("Should link events to experiments", func(t *testing.T) {
		linked := pc.ExperimentsForEventKey("purchase")
		require.Len(t, linked, 2)
		assert.Equal(t, "checkout_test", linked[0].Key)
	})
}

func TestParse_DecisionsMatchReferenceBuckets(t *testing.T) {
	t.Parallel()

	// Arrange
	pc := loadFixture(t)
	svc := decision.New(nil, pc, bucketing.New(pc, nil), nil, nil)
	exp, err := pc.ExperimentByKey("checkout_test")
	require.NoError(t, err)

	tests := []struct {
		userID string
		want   string
	}{
		{userID: "ppid1", want: "b"}, // bucket 5254
		{userID: "ppid2", want: "a"}, // bucket 4299
		{userID: "ppid3", want: "b"}, // bucket 5439
		{userID: "qa_user", want: "b"},
	}

	for _, tt := range tests {
		t.Run("Should bucket "+tt.userID, func(t *testing.T) {
			// Act
			got := svc.GetVariation(context.Background(), exp, tt.userID, nil)

			// Assert
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Key)
		})
	}
}

func TestParse_OlderVersions(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(filepath.Join("testdata", "v4.json"))
	require.NoError(t, err)

	t.Run("Should ignore v4 sections in a v3 datafile", func(t *testing.T) {
		v3 := bytes.Replace(raw, []byte(`"version": "4"`), []byte(`"version": "3"`), 1)

		pc, err := Parse(v3, nil)

		require.NoError(t, err)
		assert.True(t, pc.AnonymizeIP())
		assert.False(t, pc.BotFiltering())
		assert.Empty(t, pc.FeatureFlags())
	})

	t.Run("Should ignore anonymizeIP in a v2 datafile", func(t *testing.T) {
		v2 := bytes.Replace(raw, []byte(`"version": "4"`), []byte(`"version": "2"`), 1)

		pc, err := Parse(v2, nil)

		require.NoError(t, err)
		assert.False(t, pc.AnonymizeIP())
		_, err = pc.ExperimentByKey("checkout_test")
		assert.NoError(t, err)
	})
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "Should reject malformed JSON",
			input:   `{"version":`,
			wantErr: ErrInvalidDatafile,
		},
		{
			name:    "Should reject unsupported versions",
			input:   `{"version":"5","accountId":"1","projectId":"1","revision":"1"}`,
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "Should require project identity",
			input:   `{"version":"4","accountId":"","projectId":"1","revision":"1"}`,
			wantErr: ErrInvalidDatafile,
		},
		{
			name: "Should reject allocations beyond the bucket range",
			input: `{"version":"4","accountId":"1","projectId":"1","revision":"1","experiments":[
				{"id":"e","key":"e","status":"Running","variations":[{"id":"v","key":"v"}],
				 "trafficAllocation":[{"entityId":"v","endOfRange":10001}]}]}`,
			wantErr: ErrInvalidDatafile,
		},
		{
			name: "Should reject unknown variable types",
			input: `{"version":"4","accountId":"1","projectId":"1","revision":"1","featureFlags":[
				{"id":"f","key":"f","variables":[{"id":"v","key":"v","type":"json","defaultValue":"{}"}]}]}`,
			wantErr: ErrInvalidDatafile,
		},
		{
			name: "Should reject undecodable audience conditions",
			input: `{"version":"4","accountId":"1","projectId":"1","revision":"1","audiences":[
				{"id":"a","name":"a","conditions":"[\"xor\"]"}]}`,
			wantErr: ErrInvalidDatafile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.input), nil)

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)

	assert.Error(t, err)
}
