package client

import (
	"math"
	"time"
)

// Backoff is the reconnect policy: exponential delay with a cap, bounded or
// unbounded attempts. The zero value of MaxAttempts means retry forever.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff mirrors a mobile client's transport defaults.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 0,
}

// Delay returns the wait before the given attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(2, float64(attempt)))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether the policy allows no further attempt.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

// Stable reports whether a connection lived long enough to reset the
// attempt counter.
func (b Backoff) Stable(lifetime time.Duration) bool {
	return lifetime >= b.Base
}
