// Package webhook holds domain rules for webhook delivery: the retry backoff
// schedule and the canonical signed body format.
package webhook

import "time"

// Backoff schedule by attempt number. Attempt 1 retries after one minute,
// attempt 2 after five, everything later after fifteen.
const (
	firstRetryDelay  = 1 * time.Minute
	secondRetryDelay = 5 * time.Minute
	laterRetryDelay  = 15 * time.Minute
)

// RetryDelay returns the delay to wait before the next delivery attempt,
// given the number of attempts already made.
func RetryDelay(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return firstRetryDelay
	case attempts == 2:
		return secondRetryDelay
	default:
		return laterRetryDelay
	}
}
