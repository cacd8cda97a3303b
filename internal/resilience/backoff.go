package resilience

import (
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 16

// Backoff returns base doubled per attempt (attempt 1 waits base), spread by
// ±jitter as a fraction of the delay.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := min(max(attempt, 1)-1, maxBackoffShift)
	d := base << shift
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * min(jitter, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
