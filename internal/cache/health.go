package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports Redis reachability to the readiness probe.
type HealthChecker struct {
	client redis.Cmdable
}

func NewHealthChecker(client redis.Cmdable) *HealthChecker {
	return &HealthChecker{client: client}
}

func (h *HealthChecker) Name() string {
	return "redis"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
