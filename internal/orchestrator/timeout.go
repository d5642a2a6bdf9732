package orchestrator

import (
	"context"
	"time"
)

// DefaultUnitTimeout bounds one configurator run.
const DefaultUnitTimeout = 30 * time.Minute

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// WithTimeout wraps a context with a per-unit timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultUnitTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
