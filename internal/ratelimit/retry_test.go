package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// fastLimiter returns a limiter with no pacing and millisecond backoff so
// retry tests run quickly.
func fastLimiter(maxRetries int) *Limiter {
	return NewLimiter(
		WithMinDelay(0),
		WithMaxRetries(maxRetries),
		WithInitialRetryDelay(time.Millisecond),
	)
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit lowercase", errors.New("rate limit exceeded"), true},
		{"rate limit mixed case", errors.New("Rate Limit hit"), true},
		{"http 429", errors.New("unexpected status 429"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"unrelated", errors.New("connection refused"), false},
		{"coded retryable, neutral message",
			types.NewRetryableError("THROTTLED", "backend saturated"), true},
		{"coded retryable, wrapped",
			fmt.Errorf("call failed: %w", types.NewRetryableError("THROTTLED", "backend saturated")), true},
		{"coded non-retryable", types.NewError("BROKEN", "backend saturated"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimitError(tt.err))
		})
	}
}

func TestExecuteWithRetry_SuccessFirstAttempt(t *testing.T) {
	l := fastLimiter(3)
	var calls atomic.Int64

	result, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteWithRetry_RetriesRateLimitThenSucceeds(t *testing.T) {
	const failures = 3
	l := fastLimiter(3)
	var calls atomic.Int64

	result, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		if n <= failures {
			return 0, errors.New("429 too many requests")
		}
		return 42, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, int64(failures+1), calls.Load(), "success after exactly maxRetries retries")
}

func TestExecuteWithRetry_NonRateLimitErrorNotRetried(t *testing.T) {
	l := fastLimiter(3)
	var calls atomic.Int64
	boom := errors.New("schema validation failed")

	_, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	}, nil)

	require.ErrorIs(t, err, boom, "error must propagate unchanged")
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteWithRetry_ExhaustionPropagatesError(t *testing.T) {
	const maxRetries = 2
	l := fastLimiter(maxRetries)
	var calls atomic.Int64
	throttled := errors.New("rate limit exceeded")

	_, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", throttled
	}, nil)

	require.ErrorIs(t, err, throttled)
	assert.Equal(t, int64(maxRetries+1), calls.Load())
}

func TestExecuteWithRetry_BackoffDoubles(t *testing.T) {
	const initial = 10 * time.Millisecond
	l := NewLimiter(WithMinDelay(0), WithMaxRetries(2), WithInitialRetryDelay(initial))
	var calls atomic.Int64

	start := time.Now()
	_, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("rate limit")
	}, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load())
	// Backoffs are initial and 2*initial before the second and third attempts.
	assert.GreaterOrEqual(t, elapsed, 3*initial-2*time.Millisecond)
}

func TestExecuteWithRetry_CustomClassifier(t *testing.T) {
	l := fastLimiter(2)
	var calls atomic.Int64
	throttled := fmt.Errorf("provider throttled")

	classify := func(err error) bool {
		return errors.Is(err, throttled)
	}

	result, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", throttled
		}
		return "done", nil
	}, classify)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, int64(2), calls.Load())
}

func TestExecuteWithRetry_OverallTimeout(t *testing.T) {
	l := NewLimiter(
		WithMinDelay(0),
		WithMaxRetries(5),
		WithInitialRetryDelay(50*time.Millisecond),
		WithOverallTimeout(30*time.Millisecond),
	)
	var calls atomic.Int64

	_, err := ExecuteWithRetry(context.Background(), l, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("rate limit")
	}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), calls.Load(), "deadline must cut the retry loop short")
}

func TestExecuteWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	l := NewLimiter(WithMinDelay(0), WithMaxRetries(3), WithInitialRetryDelay(time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := ExecuteWithRetry(ctx, l, func(ctx context.Context) (string, error) {
			return "", errors.New("rate limit")
		}, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
