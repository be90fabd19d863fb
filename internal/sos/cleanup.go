package sos

import (
	"context"
	"time"

	"bloodlink/api/internal/identity"
)

// RunCleanupLoop calls Cleanup as the system identity every interval until
// ctx is done. A failed sweep is logged and retried on the next tick.
func (e *Engine) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Cleanup(ctx, identity.System()); err != nil && ctx.Err() == nil {
				e.logger.WithError(err).Error("scheduled cleanup failed")
			}
		}
	}
}
