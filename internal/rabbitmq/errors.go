package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed      = errors.New("rabbitmq: connection manager is closed")
	ErrConnectionTimeout     = errors.New("rabbitmq: connection timeout")
	ErrChannelCreationFailed = errors.New("rabbitmq: failed to create channel")

	// Publisher errors
	ErrPublishTimeout      = errors.New("rabbitmq: publish confirmation timeout")
	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed")

	// General errors
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ConnectionError is returned when the transport could not be established.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether dialing again may succeed. Rejected
// credentials, unknown vhosts and a closed manager never recover.
func (e *ConnectionError) IsRetryable() bool {
	switch {
	case errors.Is(e.Err, amqp.ErrCredentials),
		errors.Is(e.Err, amqp.ErrSASL),
		errors.Is(e.Err, amqp.ErrVhost),
		errors.Is(e.Err, ErrConnectionClosed),
		errors.Is(e.Err, ErrInvalidConfiguration):
		return false
	}
	return true
}

// PublishError is returned when the transport was open but the publish failed.
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// QueueError is returned when a reply queue could not be declared, consumed
// or deleted.
type QueueError struct {
	Queue     string    // Queue name, empty before the broker assigned one
	Op        string    // declare, consume or delete
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *QueueError) Error() string {
	name := e.Queue
	if name == "" {
		name = "<server-named>"
	}
	return fmt.Sprintf("rabbitmq queue error: %s %s: %v", e.Op, name, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// TopologyError represents a topology-related error
type TopologyError struct {
	Component string    // Component type (exchange, queue, binding)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrInvalidConfiguration):
		return false
	case errors.Is(err, ErrPublishNotConfirmed):
		return false
	}

	// Default to retryable for unknown errors
	return true
}

// SanitizeURL removes the password from a connection URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
