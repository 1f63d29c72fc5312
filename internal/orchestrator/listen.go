package orchestrator

import (
	"context"
	"time"
)

// resubscribeDelay is how long a self-healing listener sleeps before
// retrying a broken subscription, matching sourceworker's own constant.
const resubscribeDelay = time.Second

// sleepOrDone returns false if ctx is canceled before d elapses.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
