package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	ErrNonRetryable       = errors.New("retry: error is not retryable")
)

// RetryError is returned by Retry once it gave up.
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
	Permanent   bool // the last error was classified as not retryable
}

func (e *RetryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("retry failed: %s gave up after %d attempts on a permanent error: %v",
			e.Op, e.Attempts, e.LastError)
	}
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() []error {
	if e.Permanent {
		return []error{ErrNonRetryable, e.LastError}
	}
	return []error{ErrMaxRetriesExceeded, e.LastError}
}
