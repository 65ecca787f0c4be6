// Package pipeline holds the three cooperative workers behind the control
// API: the polling scheduler, the scoring dispatcher and the publishing
// dispatcher, plus the supervisor that owns their lifecycles.
//
// The workers share nothing but the store. Each is sequential; each suspends
// only at its idle sleep and around network calls, and no worker ever holds
// a store transaction across a network call.
package pipeline

import (
	"context"
	"time"
)

// Worker is one long-running pipeline loop. Run returns nil when ctx is
// cancelled; any other return is a fault the supervisor reacts to.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// sleepCtx waits for d or cancellation, reporting false when cancelled.
// Every worker idles through this so shutdown is observed at sleep points.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// clampInterval bounds a polling interval to [min, max].
func clampInterval(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
