package reliability

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines the interface for retry policies
type RetryPolicy interface {
	// ShouldRetry determines if a retry should be attempted
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxRetries returns the maximum number of retries
	MaxRetries() int
	// NextDelay calculates the next retry delay
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry policy
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts {
		return false, 0
	}
	if !isRetryableError(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxRetries implements RetryPolicy
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

// NextDelay implements RetryPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15%
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// FixedDelay implements a fixed delay retry policy
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts {
		return false, 0
	}
	if !isRetryableError(err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxRetries implements RetryPolicy
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// NextDelay implements RetryPolicy
func (f *FixedDelay) NextDelay(int) time.Duration {
	return f.Delay
}

type retryConfig struct {
	op      string
	logger  *slog.Logger
	onRetry func(attempt int, delay time.Duration, err error)
}

// RetryOption configures a single Retry call
type RetryOption func(*retryConfig)

// WithOperation names the operation in logs and in the RetryError
func WithOperation(op string) RetryOption {
	return func(cfg *retryConfig) {
		cfg.op = op
	}
}

// WithRetryLogger sets the logger
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(cfg *retryConfig) {
		cfg.logger = logger
	}
}

// WithOnRetry is called before every wait
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(cfg *retryConfig) {
		cfg.onRetry = fn
	}
}

// Retry runs fn until it succeeds, the policy gives up or ctx is done. When
// the policy gives up the returned *RetryError wraps the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error, options ...RetryOption) error {
	cfg := retryConfig{op: "operation", logger: slog.Default()}
	for _, opt := range options {
		opt(&cfg)
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				cfg.logger.Info("retry succeeded", "op", cfg.op, "attempts", attempt+1)
			}
			return nil
		}

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			return &RetryError{
				Op:          cfg.op,
				Attempts:    attempt + 1,
				MaxAttempts: policy.MaxRetries() + 1,
				LastError:   err,
				Duration:    time.Since(start),
				Permanent:   !isRetryableError(err),
			}
		}

		cfg.logger.Warn("attempt failed, retrying",
			"op", cfg.op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RetryWithBackoff retries fn with the default exponential backoff
func RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, options ...RetryOption) error {
	policy := NewExponentialBackoff(
		100*time.Millisecond,
		10*time.Second,
		2.0,
		5,
	)
	return Retry(ctx, policy, fn, options...)
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default to retryable for unknown errors
	return true
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err       error
	Retryable bool
}

// Error implements error interface
func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

// Unwrap returns the wrapped error
func (r RetryableError) Unwrap() error {
	return r.Err
}
