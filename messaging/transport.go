package messaging

import (
	"context"
)

// Message is an outbound command as handed to the transport.
type Message struct {
	RoutingKey    string
	Body          []byte
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Headers       map[string]interface{}
}

// TransportPublisher defines the interface for publishing messages through a transport
type TransportPublisher interface {
	// Publish sends msg to the command exchange and returns once the broker
	// accepted it or the attempt failed.
	Publish(ctx context.Context, msg Message) error
}

// TransportDelivery represents a message delivery from the transport
type TransportDelivery interface {
	// Body returns the message body
	Body() []byte

	// CorrelationID returns the correlation id property
	CorrelationID() string

	// Acknowledge marks the message as processed
	Acknowledge() error

	// Reject rejects the message with optional requeue
	Reject(requeue bool) error
}

// ReplyQueues creates the temporary queues replies are consumed from.
type ReplyQueues interface {
	// Declare creates a broker-named queue and delivers everything that
	// arrives on it to handler until Remove is called.
	Declare(ctx context.Context, handler func(TransportDelivery)) (string, error)

	// Remove stops consuming and deletes the queue.
	Remove(ctx context.Context, name string) error
}

// Transport provides publishing and reply queues on one broker connection
type Transport interface {
	// Publisher returns a transport publisher
	Publisher() TransportPublisher

	// ReplyQueues returns the reply queue lifecycle
	ReplyQueues() ReplyQueues

	// Connect establishes connection to the broker
	Connect(ctx context.Context) error

	// Close closes all resources
	Close() error

	// IsConnected returns connection status
	IsConnected() bool
}
