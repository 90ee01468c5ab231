package webhook

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// NextDelay decides whether another attempt may run after attemptNumber
// attempts have completed, and how long to wait before it. It is pure: no
// clock, no randomness, so a policy's schedule is fully predictable.
//
// Backoff by strategy, where n is the attempt number just finished:
//
//	fixed        initialDelay
//	linear       initialDelay * n
//	exponential  initialDelay * multiplier^(n-1)    (multiplier defaults to 2)
//
// All delays are capped at maxDelay when it is positive. The second return
// is false once attemptNumber >= maxRetries: the budget is spent and the
// delivery must be dead-lettered.
func NextDelay(attemptNumber int, policy models.RetryPolicy) (time.Duration, bool) {
	if attemptNumber >= policy.MaxRetries {
		return 0, false
	}
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	initial := float64(policy.InitialDelayMs)
	if initial < 0 {
		initial = 0
	}

	var delayMs float64
	switch policy.Backoff {
	case models.BackoffFixed:
		delayMs = initial
	case models.BackoffLinear:
		delayMs = initial * float64(attemptNumber)
	default:
		multiplier := policy.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		delayMs = initial * math.Pow(multiplier, float64(attemptNumber-1))
	}

	if policy.MaxDelayMs > 0 && delayMs > float64(policy.MaxDelayMs) {
		delayMs = float64(policy.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond, true
}

// ParseRetryAfter reads a Retry-After header value, either delay-seconds or
// an HTTP date. The bool is false when the value is absent or malformed.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			return 0, false
		}
		return d, true
	}

	return 0, false
}
