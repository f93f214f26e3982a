package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPublisherClosed is returned once the CommandPublisher has been closed.
var ErrPublisherClosed = errors.New("messaging: publisher is closed")

// CommandPublisher sends fire-and-forget commands. Send blocks until the
// broker accepted the command; SendAsync runs the same publish on its own
// goroutine so the caller never waits for network I/O.
type CommandPublisher struct {
	publisher    TransportPublisher
	metrics      MetricsCollector
	logger       *slog.Logger
	errorHandler func(routingKey string, err error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// PublisherOption configures the CommandPublisher
type PublisherOption func(*CommandPublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *CommandPublisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the metrics collector
func WithPublisherMetrics(metrics MetricsCollector) PublisherOption {
	return func(p *CommandPublisher) {
		p.metrics = metrics
	}
}

// WithSendErrorHandler receives errors of SendAsync
func WithSendErrorHandler(handler func(routingKey string, err error)) PublisherOption {
	return func(p *CommandPublisher) {
		p.errorHandler = handler
	}
}

// NewCommandPublisher creates a new command publisher
func NewCommandPublisher(publisher TransportPublisher, options ...PublisherOption) *CommandPublisher {
	p := &CommandPublisher{
		publisher: publisher,
		metrics:   NoOpMetricsCollector{},
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishOptions configures message publishing
type PublishOptions struct {
	ContentType string
	Headers     map[string]interface{}
}

// PublishOption configures publish behavior
type PublishOption func(*PublishOptions)

// WithContentType sets the content type property
func WithContentType(contentType string) PublishOption {
	return func(opts *PublishOptions) {
		opts.ContentType = contentType
	}
}

// WithHeaders sets custom headers
func WithHeaders(headers map[string]interface{}) PublishOption {
	return func(opts *PublishOptions) {
		if opts.Headers == nil {
			opts.Headers = make(map[string]interface{})
		}
		for k, v := range headers {
			opts.Headers[k] = v
		}
	}
}

// Send publishes body with routingKey. The "type" header is always set to
// the routing key.
func (p *CommandPublisher) Send(ctx context.Context, routingKey string, body []byte, options ...PublishOption) error {
	if routingKey == "" {
		return fmt.Errorf("%w: routing key is required", ErrInvalidRequest)
	}

	opts := PublishOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	headers := map[string]interface{}{"type": routingKey}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	start := time.Now()
	err := p.publisher.Publish(ctx, Message{
		RoutingKey:  routingKey,
		Body:        body,
		ContentType: opts.ContentType,
		Headers:     headers,
	})
	if err != nil {
		p.metrics.IncrementErrorCount(routingKey, ErrorTypePublish)
		p.logger.Error("failed to send command", "routingKey", routingKey, "error", err)
		return fmt.Errorf("failed to send command: %w", err)
	}

	p.metrics.IncrementMessageCount(routingKey)
	p.logger.Debug("command sent", "routingKey", routingKey, "duration", time.Since(start))
	return nil
}

// SendAsync returns immediately and publishes on its own goroutine. Failures
// reach the handler set with WithSendErrorHandler.
func (p *CommandPublisher) SendAsync(ctx context.Context, routingKey string, body []byte, options ...PublishOption) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.reportError(routingKey, ErrPublisherClosed)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic in send", "routingKey", routingKey, "panic", r)
			}
		}()

		if err := p.Send(ctx, routingKey, body, options...); err != nil {
			p.reportError(routingKey, err)
		}
	}()
}

// Close waits for in-flight asynchronous sends.
func (p *CommandPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *CommandPublisher) reportError(routingKey string, err error) {
	if p.errorHandler != nil {
		p.errorHandler(routingKey, err)
		return
	}
	p.logger.Error("send failed", "routingKey", routingKey, "error", err)
}
