package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/database"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/store"
	"github.com/rafaeljc/bifrost/internal/userprofile"
)

// profileBackend bundles the selected store with what the rest of main needs
// to observe and release it.
type profileBackend struct {
	service  userprofile.Service
	checkers []observability.Checker
	closers  []func()
}

func (b *profileBackend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openProfiles connects the backend named by cfg.Profiles.Backend. The
// returned service is nil when sticky bucketing is disabled.
func openProfiles(ctx context.Context, cfg *config.Config) (*profileBackend, error) {
	log := logger.FromContext(ctx)
	b := &profileBackend{}

	interval := cfg.Observability.MonitorInterval
	monitorCtx, cancel := context.WithCancel(ctx)
	b.closers = append(b.closers, cancel)

	var svc userprofile.Service

	switch cfg.Profiles.Backend {
	case config.ProfileBackendNone:
		log.Info("user profiles disabled, decisions are not sticky")
		return b, nil

	case config.ProfileBackendMemory:
		mem, err := cache.NewMemoryProfileStore(cfg.Profiles.MemoryCapacity, cfg.Profiles.MemoryTTL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to create memory profile store: %w", err)
		}
		b.closers = append(b.closers, mem.Close)
		go mem.RunMetricsCollector(monitorCtx, interval)
		svc = mem

	case config.ProfileBackendRedis:
		rdb, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		b.checkers = append(b.checkers, cache.NewHealthChecker(rdb))
		go cache.RunPoolMonitor(monitorCtx, rdb, interval)
		svc = cache.NewRedisProfileStore(rdb, cfg.Profiles.RedisKeyPrefix, cfg.Profiles.RedisTTL)

	case config.ProfileBackendPostgres:
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.checkers = append(b.checkers, database.NewHealthChecker(pool))
		go database.RunPoolMonitor(monitorCtx, pool, interval)
		svc = store.NewPostgresProfileStore(pool)

	default:
		b.close()
		return nil, fmt.Errorf("unknown profile backend %q", cfg.Profiles.Backend)
	}

	log.Info("user profiles enabled",
		slog.String("backend", cfg.Profiles.Backend),
		slog.Duration("timeout", cfg.Profiles.Timeout),
	)
	b.service = userprofile.WithTimeout(svc, cfg.Profiles.Timeout)
	return b, nil
}
