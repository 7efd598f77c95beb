package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Default limiter settings, tuned for completion APIs that cap both
// requests per second and concurrent in-flight requests.
const (
	DefaultMaxConcurrent     = 2
	DefaultMinDelay          = 2 * time.Second
	DefaultMaxRetries        = 3
	DefaultInitialRetryDelay = 3 * time.Second
)

// Config holds limiter configuration.
type Config struct {
	// MaxConcurrent bounds the number of operations between Acquire and
	// Release at any instant.
	MaxConcurrent int

	// MinDelay is the minimum spacing between consecutive call starts.
	MinDelay time.Duration

	// MaxRetries is the number of additional attempts ExecuteWithRetry
	// makes after the first rate-limited failure.
	MaxRetries int

	// InitialRetryDelay is the backoff before the first retry; each
	// subsequent retry doubles it (fresh from the initial value per
	// invocation, never compounded across calls).
	InitialRetryDelay time.Duration

	// OverallTimeout, when positive, is a deadline wrapping all attempts
	// of one ExecuteWithRetry invocation, backoff sleeps included.
	// Zero means no overall deadline.
	OverallTimeout time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		MinDelay:          DefaultMinDelay,
		MaxRetries:        DefaultMaxRetries,
		InitialRetryDelay: DefaultInitialRetryDelay,
	}
}

// Limiter paces call starts and bounds in-flight concurrency.
//
// Thread safety: all methods are safe for concurrent use. Pacing is applied
// in submission order; permit acquisition order under contention is not
// guaranteed to match request order.
type Limiter struct {
	cfg    Config
	pacer  *rate.Limiter
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// Option is a functional option for configuring a Limiter.
type Option func(*Config)

// WithMaxConcurrent sets the concurrency bound.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConcurrent = n
		}
	}
}

// WithMinDelay sets the minimum spacing between call starts.
func WithMinDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.MinDelay = d
		}
	}
}

// WithMaxRetries sets the retry budget for rate-limited failures.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxRetries = n
		}
	}
}

// WithInitialRetryDelay sets the first backoff delay.
func WithInitialRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialRetryDelay = d
		}
	}
}

// WithOverallTimeout sets a deadline covering all attempts of one
// ExecuteWithRetry invocation.
func WithOverallTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.OverallTimeout = d
		}
	}
}

// NewLimiter creates a Limiter from the default configuration and options.
func NewLimiter(opts ...Option) *Limiter {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewLimiterWithConfig(cfg)
}

// NewLimiterWithConfig creates a Limiter from an explicit configuration.
// Zero or negative fields fall back to their defaults.
func NewLimiterWithConfig(cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = DefaultInitialRetryDelay
	}

	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}

	return &Limiter{
		cfg:    cfg,
		pacer:  rate.NewLimiter(limit, 1),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: slog.Default(),
	}
}

// Config returns a copy of the limiter's effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Acquire waits for the pacing slot and then for a concurrency permit.
// Callers must pair every successful Acquire with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}
	return l.sem.Acquire(ctx, 1)
}

// Release returns the concurrency permit taken by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
