package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/userprofile"
	"github.com/rafaeljc/bifrost/internal/validation"
)

const backendRedis = "redis"

var _ userprofile.Service = (*RedisProfileStore)(nil)

// RedisProfileStore persists each profile as a JSON document under
// keyPrefix+userID. A zero ttl keeps documents forever.
type RedisProfileStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisProfileStore creates a store on an already connected client.
func NewRedisProfileStore(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisProfileStore {
	if client == nil {
		panic("critical error: redis client cannot be nil")
	}
	validation.AssertNotEmpty(keyPrefix, "redis profile key prefix")
	return &RedisProfileStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Key returns the Redis key holding userID's profile.
func (s *RedisProfileStore) Key(userID string) string {
	return s.keyPrefix + userID
}

// Lookup fetches and decodes the stored document. A missing key yields (nil, nil).
func (s *RedisProfileStore) Lookup(ctx context.Context, userID string) (map[string]any, error) {
	start := time.Now()
	defer observeStore(backendRedis, "lookup", start)

	raw, err := s.client.Get(ctx, s.Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %q from redis: %w", userID, err)
	}

	var profile map[string]any
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile %q: %w", userID, err)
	}
	return profile, nil
}

// Save validates and writes the profile, replacing any previous document.
func (s *RedisProfileStore) Save(ctx context.Context, m map[string]any) error {
	start := time.Now()
	defer observeStore(backendRedis, "save", start)

	profile, ok := userprofile.FromMap(m)
	if !ok {
		return userprofile.ErrInvalidProfile
	}

	payload, err := json.Marshal(profile.ToMap())
	if err != nil {
		return fmt.Errorf("failed to encode profile %q: %w", profile.UserID, err)
	}

	if err := s.client.Set(ctx, s.Key(profile.UserID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile %q to redis: %w", profile.UserID, err)
	}
	return nil
}
