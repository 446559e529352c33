package job

import (
	"math"
	"time"
)

const (
	backoffBaseSeconds = 10
	backoffFactor      = 3
	backoffCapSeconds  = 900
)

// backoff returns the retry delay for a job that has just completed its
// attempt'th try: exponential with base 10s, factor 3, capped at 900s.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := backoffBaseSeconds * math.Pow(backoffFactor, float64(attempt-1))
	if seconds > backoffCapSeconds {
		seconds = backoffCapSeconds
	}
	return time.Duration(seconds) * time.Second
}
