package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// Limiter implements fixed-window rate accounting. Each key gets one
// counter per window, windowIndex = unixSeconds / windowSeconds, and a
// request is admitted while the counter stays at or under requests+burst.
//
// The fixed window admits up to 2x the limit across a window boundary in
// the worst case (a full burst at the end of one window and another at the
// start of the next). That is the accepted tradeoff for O(1) state per key
// and a single atomic increment per check.
type Limiter struct {
	counters CounterStore
	logger   *zap.Logger
}

// Decision is the outcome of one CheckAndConsume call.
type Decision struct {
	Admitted bool
	// Remaining is how many more requests the current window will admit.
	Remaining int64
	// RetryAfterSeconds is set on rejection: seconds until the next window
	// opens, always at least 1.
	RetryAfterSeconds int
}

func New(counters CounterStore, logger *zap.Logger) *Limiter {
	return &Limiter{counters: counters, logger: logger}
}

// CheckAndConsume counts the request against the key's current window and
// decides admission. Policies with a non-positive limit or window are
// treated as unlimited and are not counted. Unenforced policies are always
// admitted but still counted, so operators can watch a limit before
// turning it on.
//
// A counter backend failure admits the request (fail open) and returns the
// error for the caller to log.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, policy models.RateLimitPolicy, now time.Time) (Decision, error) {
	if policy.Requests <= 0 || policy.WindowSeconds <= 0 {
		return Decision{Admitted: true, Remaining: -1}, nil
	}

	window := int64(policy.WindowSeconds)
	windowIndex := now.Unix() / window
	counterKey := key + ":" + strconv.FormatInt(windowIndex, 10)
	ttl := time.Duration(2*policy.WindowSeconds) * time.Second

	count, err := l.counters.Incr(ctx, counterKey, ttl)
	if err != nil {
		return Decision{Admitted: true, Remaining: -1}, err
	}

	allowed := int64(policy.Requests + policy.Burst)
	remaining := allowed - count
	if remaining < 0 {
		remaining = 0
	}

	if count <= allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}

	if !policy.Enforced {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}

	retryAfter := (windowIndex+1)*window - now.Unix()
	if retryAfter < 1 {
		retryAfter = 1
	}
	l.logger.Debug("Rate limit exceeded",
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Int64("allowed", allowed),
	)
	return Decision{Admitted: false, RetryAfterSeconds: int(retryAfter)}, nil
}
