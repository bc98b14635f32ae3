package rand

import (
	mrand "math/rand"
	"time"
)

// Jitter returns a delay uniform in [1ms, min(2*n*avg, max)]; an upper
// bound below 1ms is raised to 1ms. n is meant to
// be a per-caller counter that grows by one on every call, so the widened
// bound spreads out repeated calls to avoid a thundering herd of scheduled
// work firing all at once.
func Jitter(n int, avg, max time.Duration) time.Duration {
	bound := 2 * time.Duration(n) * avg
	if bound > max {
		bound = max
	}
	if bound < time.Millisecond {
		bound = time.Millisecond
	}
	return time.Millisecond + time.Duration(mrand.Int63n(int64(bound-time.Millisecond)+1))
}
