package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/database"
)

// PostgresContainer holds the references to the running Docker container
// and the initialized database connection pool.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate stops and removes the docker container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// StartPostgresContainer runs postgres:15-alpine with every *.sql file of
// migrationsDir applied in lexical order, then connects through
// database.NewPostgresPool.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	migrations, err := migrationFiles(migrationsDir)
	if err != nil {
		return nil, err
	}

	ctr, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("bifrost_test"),
		postgres.WithUsername("bifrost"),
		postgres.WithPassword("bifrost"),
		postgres.WithInitScripts(migrations...),
		testcontainers.WithWaitStrategy(
			// The server restarts once after init scripts, hence two occurrences.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            connStr,
		MaxConns:       5,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{Container: ctr, DB: pool, ConnectionString: connStr}, nil
}

func migrationFiles(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(abs, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}
	slices.Sort(files)
	return files, nil
}
