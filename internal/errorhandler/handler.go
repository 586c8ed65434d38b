// Package errorhandler provides the strategies used to report errors that
// the decision engine swallows on behalf of the caller.
package errorhandler

import (
	"log/slog"
)

// Handler receives errors that do not change the outcome of a decision,
// such as unknown keys or failing profile storage.
type Handler interface {
	HandleError(err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(err error)

// HandleError calls f(err).
func (f HandlerFunc) HandleError(err error) {
	f(err)
}

// NoOp discards every error. It is the default.
type NoOp struct{}

// HandleError does nothing.
func (NoOp) HandleError(error) {}

// Logging writes every error to a logger at Error level.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a Logging handler. A nil logger means slog.Default().
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

// HandleError logs err.
func (l *Logging) HandleError(err error) {
	l.logger.Error("decision engine error", slog.Any("error", err))
}

// Panic re-raises every error. Hosts opt into it to surface errors that
// would otherwise be swallowed, typically in tests.
type Panic struct{}

// HandleError panics with err.
func (Panic) HandleError(err error) {
	panic(err)
}

// ByName returns the handler for a configuration value: "noop", "log" or "panic".
// Unknown names fall back to NoOp.
func ByName(name string, logger *slog.Logger) Handler {
	switch name {
	case "log":
		return NewLogging(logger)
	case "panic":
		return Panic{}
	default:
		return NoOp{}
	}
}
