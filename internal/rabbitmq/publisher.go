package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the direct exchange every worker binds to.
	DefaultExchange = "ex"

	// DefaultConfirmTimeout bounds the wait for a publisher confirm.
	DefaultConfirmTimeout = 5 * time.Second
)

// Publisher publishes single messages to the command exchange on the
// channel owned by a ConnectionManager. It never retries: a failed publish
// is terminal for that call.
type Publisher struct {
	manager        *ConnectionManager
	exchange       string
	confirmTimeout time.Duration
	confirmMode    bool
	logger         *slog.Logger

	mu          sync.Mutex
	confirmedOn Channel
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithExchange sets the exchange messages are published to
func WithExchange(exchange string) PublisherOption {
	return func(p *Publisher) {
		p.exchange = exchange
	}
}

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithConfirmMode enables or disables publisher confirms
func WithConfirmMode(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.confirmMode = enabled
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher
func NewPublisher(manager *ConnectionManager, options ...PublisherOption) *Publisher {
	p := &Publisher{
		manager:        manager,
		exchange:       DefaultExchange,
		confirmTimeout: DefaultConfirmTimeout,
		confirmMode:    true,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Exchange returns the exchange the publisher targets.
func (p *Publisher) Exchange() string {
	return p.exchange
}

// Publish sends msg with routingKey and, in confirm mode, waits for the
// broker to acknowledge it. A transport that cannot be established is
// reported as the *ConnectionError from the manager and nothing is sent.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.manager.EnsureConnected(ctx)
	if err != nil {
		return err
	}

	if p.confirmMode {
		if err := p.enableConfirms(ch); err != nil {
			p.manager.Invalidate(ch, err)
			return p.publishError(routingKey, fmt.Errorf("failed to enable confirms: %w", err))
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	confirm, err := ch.Publish(ctx, p.exchange, routingKey, msg)
	if err != nil {
		p.manager.Invalidate(ch, err)
		p.logger.Error("publish failed", "exchange", p.exchange, "routingKey", routingKey, "error", err)
		return p.publishError(routingKey, err)
	}

	if !p.confirmMode || confirm == nil {
		p.logger.Debug("message published", "exchange", p.exchange, "routingKey", routingKey)
		return nil
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(confirmCtx)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		p.manager.Invalidate(ch, err)
		return p.publishError(routingKey, fmt.Errorf("%w after %v", ErrPublishTimeout, p.confirmTimeout))
	case err != nil:
		return p.publishError(routingKey, err)
	case !acked:
		p.logger.Warn("publish nacked by broker", "exchange", p.exchange, "routingKey", routingKey)
		return p.publishError(routingKey, ErrPublishNotConfirmed)
	}

	p.logger.Debug("message published and confirmed", "exchange", p.exchange, "routingKey", routingKey)
	return nil
}

// enableConfirms puts ch into confirm mode once.
func (p *Publisher) enableConfirms(ch Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.confirmedOn == ch {
		return nil
	}
	if err := ch.Confirm(false); err != nil {
		return err
	}
	p.confirmedOn = ch
	return nil
}

func (p *Publisher) publishError(routingKey string, err error) *PublishError {
	return &PublishError{
		Exchange:   p.exchange,
		RoutingKey: routingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
