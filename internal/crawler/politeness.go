package crawler

import (
	"context"
	"math/rand/v2"
	"time"
)

// TimerPauser implements Pauser with a timer that honors context cancellation.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// DelayRange is an inclusive range a randomized delay is drawn from.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random delay in the range. A collapsed or inverted
// range returns Min.
func (r DelayRange) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}
