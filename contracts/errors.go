package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is wrapped by every ParseError.
	ErrMalformedPayload = errors.New("contracts: malformed payload")
)

// ParseError is returned when a payload does not follow the instruction or
// worker response schema.
type ParseError struct {
	Kind   string // instruction or worker
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Kind, e.Reason)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformedPayload
}

// Is lets errors.Is(err, ErrMalformedPayload) match regardless of the cause.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// IsParseError reports whether err is, or wraps, a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
