package listener

import (
	"math/rand"
	"time"
)

// Backoff is the reconnect policy shared by the feed sources: exponential
// growth from Min to Max with full jitter, giving up after MaxRetries
// consecutive failures. MaxRetries of 0 retries forever.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	MaxRetries int
}

// Exhausted reports whether attempt is past the retry budget
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxRetries > 0 && attempt > b.MaxRetries
}

// Delay returns the wait before the given 1-based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	min, max := b.Min, b.Max
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}

	ceiling := min
	for i := 1; i < attempt && ceiling < max; i++ {
		ceiling *= 2
	}
	if ceiling > max {
		ceiling = max
	}

	// full jitter, but never below min
	return min + time.Duration(rand.Int63n(int64(ceiling-min)+1))
}
