package queue

import (
	"math"
	"time"
)

// BackoffDelay returns the wait before retry attempt n (1-based): a fixed
// base doubling per attempt, so growth is strictly monotonic below the
// attempt ceiling.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// SpacingDelay is the per-marketplace minimum inter-request spacing derived
// from a requests-per-minute ceiling: ceil(60000/rpm) milliseconds.
func SpacingDelay(ratePerMinute int) time.Duration {
	if ratePerMinute <= 0 {
		return 0
	}
	ms := math.Ceil(60000 / float64(ratePerMinute))
	return time.Duration(ms) * time.Millisecond
}
