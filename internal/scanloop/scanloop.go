// Package scanloop runs periodic background work at a jittered cadence.
// The usage-statistics poller and the quota auto-refresh loop are both built
// on it.
package scanloop

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultMinInterval and DefaultJitterRange define the usage poll cadence.
	DefaultMinInterval = 30 * time.Second
	DefaultJitterRange = 10 * time.Second
)

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minIntervalFn() + random([0, jitterRange)), re-read every
// cycle so a settings change takes effect without restarting the loop.
func Run(stopCh <-chan struct{}, minIntervalFn func() time.Duration, jitterRange time.Duration, fn func()) {
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minIntervalFn()
		if interval <= 0 {
			interval = time.Second
		}
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
