package schedule

import (
	"time"

	"github.com/jpillora/backoff"
)

// RetryDelay returns how long to wait before retrying a provider
// failure: 1m, 2m, 4m for attempts 1, 2, 3. No jitter; the queue's
// next_attempt_at granularity makes it pointless.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    time.Minute,
		Max:    24 * time.Hour,
		Factor: 2,
		Jitter: false,
	}
	return b.ForAttempt(float64(attempts - 1))
}
