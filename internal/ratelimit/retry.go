package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Classifier decides whether a failure should trigger retry-with-backoff
// (true) or propagate to the caller immediately (false).
type Classifier func(error) bool

// IsRateLimitError is the default classifier. It matches coded errors that
// carry the retryable hint, and the textual signatures completion APIs
// commonly use for throttling responses.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if types.IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests")
}

// ExecuteWithRetry runs op through the limiter, retrying rate-limited
// failures with exponential backoff.
//
// op is invoked anew on every attempt; it must start a fresh execution each
// time it is called rather than replaying a consumed one. The concurrency
// permit is always released before the retry decision, so a sleeping
// retrier never starves other callers.
//
// Classification uses classify when non-nil, else IsRateLimitError. A
// rate-limited failure with attempts remaining sleeps
// InitialRetryDelay * 2^attempt and tries again; any other error, or a
// rate-limited failure with no retries left, is returned unchanged.
//
// When the limiter's OverallTimeout is set, it bounds all attempts and
// backoff sleeps of this one invocation.
func ExecuteWithRetry[T any](ctx context.Context, l *Limiter, op func(context.Context) (T, error), classify Classifier) (T, error) {
	var zero T

	if l.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.OverallTimeout)
		defer cancel()
	}

	if classify == nil {
		classify = IsRateLimitError
	}

	for attempt := 0; ; attempt++ {
		if err := l.Acquire(ctx); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		l.Release()

		if err == nil {
			return result, nil
		}

		if !classify(err) || attempt >= l.cfg.MaxRetries {
			return zero, err
		}

		delay := l.cfg.InitialRetryDelay * time.Duration(1<<uint(attempt))
		l.logger.Warn("rate limited, backing off",
			"attempt", attempt+1,
			"max_attempts", l.cfg.MaxRetries+1,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}
