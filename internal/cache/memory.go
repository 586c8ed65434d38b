package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/userprofile"
)

const backendMemory = "memory"

var _ userprofile.Service = (*MemoryProfileStore)(nil)

// MemoryProfileStore keeps sticky-bucketing profiles in a bounded otter cache.
// Profiles are lost on restart and once the TTL expires; a miss simply makes
// the decision service bucket the user again.
type MemoryProfileStore struct {
	store otter.Cache[string, *userprofile.UserProfile]
}

// NewMemoryProfileStore creates a store holding at most capacity profiles,
// each kept for ttl after its last save.
func NewMemoryProfileStore(capacity int, ttl time.Duration) (*MemoryProfileStore, error) {
	store, err := otter.MustBuilder[string, *userprofile.UserProfile](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build memory profile store: %w", err)
	}
	return &MemoryProfileStore{store: store}, nil
}

// Lookup returns the stored profile in map form, or nil when absent.
func (s *MemoryProfileStore) Lookup(_ context.Context, userID string) (map[string]any, error) {
	start := time.Now()
	defer observeStore(backendMemory, "lookup", start)

	profile, ok := s.store.Get(userID)
	if !ok {
		observability.MemoryProfileMisses.Inc()
		return nil, nil
	}
	observability.MemoryProfileHits.Inc()
	return profile.ToMap(), nil
}

// Save stores a copy of the profile. Writes refused by the eviction policy
// are counted and dropped.
func (s *MemoryProfileStore) Save(_ context.Context, m map[string]any) error {
	start := time.Now()
	defer observeStore(backendMemory, "save", start)

	profile, ok := userprofile.FromMap(m)
	if !ok {
		return userprofile.ErrInvalidProfile
	}
	if !s.store.Set(profile.UserID, profile) {
		observability.MemoryProfileRejected.Inc()
	}
	return nil
}

// Len returns the number of stored profiles.
func (s *MemoryProfileStore) Len() int {
	return s.store.Size()
}

// RunMetricsCollector publishes size and eviction figures every interval
// until ctx is cancelled.
func (s *MemoryProfileStore) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.store.Stats()
			observability.MemoryProfileItems.Set(float64(s.store.Size()))
			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.MemoryProfileEvictions.Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
		}
	}
}

// Close stops the cache's background goroutines.
func (s *MemoryProfileStore) Close() {
	s.store.Close()
}

func observeStore(backend, operation string, start time.Time) {
	observability.ProfileStoreDuration.
		WithLabelValues(backend, operation).
		Observe(time.Since(start).Seconds())
}
