package userprofile

import (
	"context"
	"time"
)

type timeoutService struct {
	next    Service
	timeout time.Duration
}

// WithTimeout bounds every Lookup and Save of next by d. A non-positive d
// returns next unchanged.
func WithTimeout(next Service, d time.Duration) Service {
	if next == nil || d <= 0 {
		return next
	}
	return &timeoutService{next: next, timeout: d}
}

func (s *timeoutService) Lookup(ctx context.Context, userID string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Lookup(ctx, userID)
}

func (s *timeoutService) Save(ctx context.Context, profile map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Save(ctx, profile)
}
