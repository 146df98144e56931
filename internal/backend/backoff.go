package backend

import (
	"math/rand"
	"time"
)

// Backoff returns the reconnection delay after the given number of
// consecutive failures: base doubled for every failure after the first,
// capped at max. Zero failures means no delay.
func Backoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 || base <= 0 {
		return 0
	}
	if max <= 0 {
		max = base << 30
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Jitter returns a random duration in [0, d/4).
func Jitter(d time.Duration) time.Duration {
	if d < 4 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d / 4)))
}
