package process

import (
	"context"
	"time"
)

// Wait blocks until the process exits, the timeout elapses or ctx is done.
// It reports whether the process has exited.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	return h.Poll().Exited()
}
