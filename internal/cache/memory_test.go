package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/testsupport"
	"github.com/rafaeljc/bifrost/internal/userprofile"
)

func profileMap(userID string, decisions map[string]string) map[string]any {
	p := userprofile.New(userID)
	for expID, varID := range decisions {
		p.SetDecision(expID, varID)
	}
	return p.ToMap()
}

func newMemoryStore(t *testing.T, capacity int) *cache.MemoryProfileStore {
	t.Helper()
	store, err := cache.NewMemoryProfileStore(capacity, time.Minute)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestMemoryProfileStore(t *testing.T) {
	t.Parallel()

	t.Run("Should return nil for unknown users", func(t *testing.T) {
		t.Parallel()
		store := newMemoryStore(t, 10)

		got, err := store.Lookup(context.Background(), "nobody")

		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Should return saved decisions", func(t *testing.T) {
		t.Parallel()
		store := newMemoryStore(t, 10)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, profileMap("user_1", map[string]string{"exp_1": "var_1"})))
		got, err := store.Lookup(ctx, "user_1")

		require.NoError(t, err)
		profile, ok := userprofile.FromMap(got)
		require.True(t, ok)
		d, found := profile.Decision("exp_1")
		assert.True(t, found)
		assert.Equal(t, "var_1", d.VariationID)
	})

	t.Run("Should replace a previous profile on save", func(t *testing.T) {
		t.Parallel()
		store := newMemoryStore(t, 10)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, profileMap("user_1", map[string]string{"exp_1": "var_1"})))
		require.NoError(t, store.Save(ctx, profileMap("user_1", map[string]string{"exp_1": "var_2", "exp_2": "var_3"})))

		got, err := store.Lookup(ctx, "user_1")
		require.NoError(t, err)
		profile, _ := userprofile.FromMap(got)
		assert.Len(t, profile.ExperimentBucketMap, 2)
		assert.Equal(t, "var_2", profile.ExperimentBucketMap["exp_1"].VariationID)
	})

	t.Run("Should not leak internal state through returned maps", func(t *testing.T) {
		t.Parallel()
		store := newMemoryStore(t, 10)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, profileMap("user_1", map[string]string{"exp_1": "var_1"})))

		got, _ := store.Lookup(ctx, "user_1")
		got[userprofile.ExperimentBucketMapKey] = map[string]any{}

		again, _ := store.Lookup(ctx, "user_1")
		profile, _ := userprofile.FromMap(again)
		assert.Len(t, profile.ExperimentBucketMap, 1)
	})

	t.Run("Should reject malformed profiles", func(t *testing.T) {
		t.Parallel()
		store := newMemoryStore(t, 10)

		err := store.Save(context.Background(), map[string]any{"user_id": 42})

		assert.ErrorIs(t, err, userprofile.ErrInvalidProfile)
		assert.Zero(t, store.Len())
	})
}

// Metric tests share global counters and must not run in parallel.
func TestMemoryProfileStore_Metrics(t *testing.T) {
	store := newMemoryStore(t, 10)
	ctx := context.Background()

	t.Run("Should count misses", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "bifrost_profiles_memory_misses_total", nil, 1, func() {
			_, _ = store.Lookup(ctx, "missing")
		})
	})

	t.Run("Should count hits", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, profileMap("hit_user", map[string]string{"exp": "var"})))
		testsupport.AssertMetricDelta(t, "bifrost_profiles_memory_hits_total", nil, 1, func() {
			_, _ = store.Lookup(ctx, "hit_user")
		})
	})

	t.Run("Should record store latency", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "bifrost_profiles_store_duration_seconds",
			map[string]string{"backend": "memory", "operation": "lookup"}, 1, func() {
				_, _ = store.Lookup(ctx, "hit_user")
			})
	})

	t.Run("Should publish item count from the collector", func(t *testing.T) {
		collectorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go store.RunMetricsCollector(collectorCtx, 10*time.Millisecond)

		for i := range 5 {
			require.NoError(t, store.Save(ctx, profileMap(fmt.Sprintf("user_%d", i), map[string]string{"exp": "var"})))
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "bifrost_profiles_memory_items_count", nil) >= 5
		}, 2*time.Second, 20*time.Millisecond, "items gauge failed to update")
	})
}
