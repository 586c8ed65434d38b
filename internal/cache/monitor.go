package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/observability"
)

// RunPoolMonitor exports go-redis pool statistics every interval until ctx is done.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last redis.PoolStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.PoolStats()
			if stats == nil {
				continue
			}

			observability.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
			observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
			observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))

			// PoolStats counters are cumulative; only the growth since the last tick is added.
			observability.RedisPoolHits.Add(delta(stats.Hits, last.Hits))
			observability.RedisPoolMisses.Add(delta(stats.Misses, last.Misses))
			observability.RedisPoolTimeouts.Add(delta(stats.Timeouts, last.Timeouts))
			last = *stats
		}
	}
}

func delta(current, previous uint32) float64 {
	if current < previous {
		return 0
	}
	return float64(current - previous)
}
