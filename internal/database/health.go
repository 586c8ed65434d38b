package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSchemaMissing means the database is reachable but migrations have not run.
var ErrSchemaMissing = errors.New("user_profiles table not found, run migrations")

// HealthChecker reports to the readiness probe whether the profile table is
// reachable. A reachable database without the table is not ready.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker creates a checker for the given pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check runs a catalog lookup for the profile table.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database pool is nil")
	}

	var present bool
	if err := h.pool.QueryRow(ctx, `SELECT to_regclass('user_profiles') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}
