package observability

import "context"

// Checker is a dependency verified by the readiness probe.
// Implementations must respect the context deadline.
type Checker interface {
	// Name identifies the component in the probe response (e.g., "postgres", "redis").
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// CheckerFunc wraps a function as a named Checker.
func CheckerFunc(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

func (c funcChecker) Name() string                    { return c.name }
func (c funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }
