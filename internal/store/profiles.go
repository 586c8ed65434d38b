// Package store is the PostgreSQL data access layer. It persists
// sticky-bucketing profiles in the user_profiles table.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/userprofile"
)

var _ userprofile.Service = (*PostgresProfileStore)(nil)

// PostgresProfileStore implements userprofile.Service backed by PostgreSQL.
type PostgresProfileStore struct {
	db *pgxpool.Pool
}

// NewPostgresProfileStore creates a store on the given pool.
func NewPostgresProfileStore(db *pgxpool.Pool) *PostgresProfileStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresProfileStore{db: db}
}

// Lookup loads the profile of userID. It returns (nil, nil) when no row exists.
func (s *PostgresProfileStore) Lookup(ctx context.Context, userID string) (map[string]any, error) {
	start := time.Now()
	defer observe("lookup", start)

	query := `
		SELECT experiment_bucket_map
		FROM user_profiles
		WHERE user_id = $1
	`

	var buckets map[string]any
	err := s.db.QueryRow(ctx, query, userID).Scan(&buckets)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %q: %w", userID, err)
	}

	if buckets == nil {
		buckets = map[string]any{}
	}
	return map[string]any{
		userprofile.UserIDKey:              userID,
		userprofile.ExperimentBucketMapKey: buckets,
	}, nil
}

// Save upserts the profile. The stored bucket map is replaced as a whole, so
// callers pass the merged profile.
func (s *PostgresProfileStore) Save(ctx context.Context, m map[string]any) error {
	start := time.Now()
	defer observe("save", start)

	profile, ok := userprofile.FromMap(m)
	if !ok {
		return userprofile.ErrInvalidProfile
	}

	query := `
		INSERT INTO user_profiles (user_id, experiment_bucket_map, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET experiment_bucket_map = EXCLUDED.experiment_bucket_map,
		    updated_at = NOW()
	`

	buckets := profile.ToMap()[userprofile.ExperimentBucketMapKey]
	if _, err := s.db.Exec(ctx, query, profile.UserID, buckets); err != nil {
		return fmt.Errorf("failed to save profile %q: %w", profile.UserID, err)
	}
	return nil
}

// Delete removes the stored profile of userID, if any.
func (s *PostgresProfileStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete profile %q: %w", userID, err)
	}
	return nil
}

func observe(operation string, start time.Time) {
	observability.ProfileStoreDuration.
		WithLabelValues("postgres", operation).
		Observe(time.Since(start).Seconds())
}
