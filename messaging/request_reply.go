package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of one ask.
type RequestState int

const (
	RequestIdle RequestState = iota
	RequestAwaitingReply
	RequestMatched
	RequestTimedOut
	RequestCancelled
	RequestClosed
)

func (s RequestState) String() string {
	switch s {
	case RequestIdle:
		return "idle"
	case RequestAwaitingReply:
		return "awaiting_reply"
	case RequestMatched:
		return "matched"
	case RequestTimedOut:
		return "timed_out"
	case RequestCancelled:
		return "cancelled"
	case RequestClosed:
		return "closed"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}

const (
	// DefaultAskTimeout applies when AskRequest.Timeout is zero.
	DefaultAskTimeout = 5 * time.Second

	defaultCleanupTimeout = 5 * time.Second
)

var (
	ErrCoordinatorClosed = errors.New("messaging: coordinator is closed")
	ErrInvalidRequest    = errors.New("messaging: invalid request")
)

// AskRequest describes one command that expects a reply.
type AskRequest struct {
	RoutingKey  string
	Body        []byte
	ContentType string
	Headers     map[string]interface{}

	// Timeout is measured from the moment the command was published.
	Timeout time.Duration

	// ExpectedReplies is the number of correlated replies that complete the
	// request, one per addressed worker. Zero means one.
	ExpectedReplies int

	// Decode turns a reply body into the value passed to Handler. A decode
	// error discards that reply and keeps waiting. Nil passes the raw body.
	Decode func(body []byte) (interface{}, error)

	// Handler is scheduled on the Dispatcher once per accepted reply. It is
	// never called for a request that timed out without replies.
	Handler func(reply interface{})
}

// AskResult is the outcome of an ask.
type AskResult struct {
	CorrelationID string
	ReplyQueue    string
	State         RequestState
	Replies       []interface{}
	Elapsed       time.Duration
}

// pendingRequest tracks one ask between publish and cleanup
type pendingRequest struct {
	correlationID string
	routingKey    string
	expected      int
	decode        func([]byte) (interface{}, error)
	handler       func(interface{})
	publishedAt   time.Time

	mu      sync.Mutex
	state   RequestState
	replies []interface{}
	done    chan struct{}
}

// expire moves an awaiting request to state and reports the state the
// request ended up in.
func (p *pendingRequest) expire(state RequestState) RequestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == RequestAwaitingReply {
		p.state = state
		close(p.done)
	}
	return p.state
}

func (p *pendingRequest) currentState() RequestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Coordinator sends commands that expect a reply. Each ask gets its own
// correlation id and its own temporary reply queue.
type Coordinator struct {
	transport      Transport
	dispatcher     Dispatcher
	metrics        MetricsCollector
	logger         *slog.Logger
	cleanupTimeout time.Duration
	errorHandler   func(req AskRequest, err error)

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// CoordinatorOption configures the Coordinator
type CoordinatorOption func(*Coordinator)

// WithDispatcher sets where reply handlers run
func WithDispatcher(dispatcher Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.dispatcher = dispatcher
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithCoordinatorLogger sets the logger
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithCleanupTimeout bounds the removal of a reply queue
func WithCleanupTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.cleanupTimeout = timeout
	}
}

// WithAskErrorHandler receives errors of asks started with AskAndWait
func WithAskErrorHandler(handler func(req AskRequest, err error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.errorHandler = handler
	}
}

// NewCoordinator creates a new request/reply coordinator
func NewCoordinator(transport Transport, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		transport:      transport,
		metrics:        NoOpMetricsCollector{},
		logger:         slog.Default(),
		cleanupTimeout: defaultCleanupTimeout,
		pending:        make(map[string]*pendingRequest),
		closing:        make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.dispatcher == nil {
		c.dispatcher = NewInlineDispatcher(WithDispatcherLogger(c.logger))
	}

	return c
}

// Ask publishes req with a fresh correlation id and blocks until the
// expected replies arrived, the timeout elapsed, ctx was cancelled or the
// coordinator was closed. The reply queue is removed before Ask returns on
// every path that created one.
func (c *Coordinator) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	if req.RoutingKey == "" {
		return AskResult{State: RequestIdle}, fmt.Errorf("%w: routing key is required", ErrInvalidRequest)
	}

	p := c.newPendingRequest(req)
	result := AskResult{CorrelationID: p.correlationID, State: RequestIdle}

	if c.isClosed() {
		return result, ErrCoordinatorClosed
	}

	queues := c.transport.ReplyQueues()
	queue, err := queues.Declare(ctx, func(d TransportDelivery) {
		c.handleDelivery(p, d)
	})
	if err != nil {
		c.metrics.IncrementErrorCount(req.RoutingKey, ErrorTypeDeclare)
		c.logger.Error("failed to declare reply queue", "routingKey", req.RoutingKey, "error", err)
		return result, fmt.Errorf("failed to declare reply queue: %w", err)
	}
	result.ReplyQueue = queue

	// awaiting before publish so a fast reply is never dropped
	p.mu.Lock()
	p.state = RequestAwaitingReply
	p.mu.Unlock()
	c.register(p)

	defer func() {
		c.unregister(p)
		p.mu.Lock()
		p.state = RequestClosed
		p.mu.Unlock()
		c.removeQueue(ctx, req.RoutingKey, queue)
	}()

	headers := map[string]interface{}{"type": req.RoutingKey}
	for k, v := range req.Headers {
		headers[k] = v
	}
	msg := Message{
		RoutingKey:    req.RoutingKey,
		Body:          req.Body,
		ContentType:   req.ContentType,
		CorrelationID: p.correlationID,
		ReplyTo:       queue,
		Headers:       headers,
	}

	if err := c.transport.Publisher().Publish(ctx, msg); err != nil {
		p.expire(RequestClosed)
		result.State = RequestClosed
		c.metrics.IncrementErrorCount(req.RoutingKey, ErrorTypePublish)
		c.logger.Error("failed to publish request",
			"routingKey", req.RoutingKey,
			"correlationId", p.correlationID,
			"error", err,
		)
		return result, fmt.Errorf("failed to send request: %w", err)
	}
	c.metrics.IncrementMessageCount(req.RoutingKey)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	p.publishedAt = time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var state RequestState
	select {
	case <-p.done:
		state = p.currentState()
	case <-timer.C:
		state = p.expire(RequestTimedOut)
	case <-ctx.Done():
		state = p.expire(RequestCancelled)
	case <-c.closing:
		state = p.expire(RequestCancelled)
	}
	// a reply accepted at the deadline closes done once its handler is scheduled
	<-p.done

	result.State = state
	result.Elapsed = time.Since(p.publishedAt)
	p.mu.Lock()
	result.Replies = append([]interface{}(nil), p.replies...)
	p.mu.Unlock()

	switch state {
	case RequestMatched:
		c.metrics.RecordProcessingTime(req.RoutingKey, result.Elapsed)
		c.logger.Debug("request matched",
			"routingKey", req.RoutingKey,
			"correlationId", p.correlationID,
			"elapsed", result.Elapsed,
		)
	case RequestTimedOut:
		c.metrics.IncrementErrorCount(req.RoutingKey, ErrorTypeTimeout)
		c.logger.Info("request timed out",
			"routingKey", req.RoutingKey,
			"correlationId", p.correlationID,
			"timeout", timeout,
			"replies", len(result.Replies),
		)
	case RequestCancelled:
		c.logger.Info("request cancelled", "routingKey", req.RoutingKey, "correlationId", p.correlationID)
	}

	return result, nil
}

// AskAndWait runs Ask on its own goroutine and returns immediately. Replies
// only reach req.Handler; errors go to the handler set with
// WithAskErrorHandler.
func (c *Coordinator) AskAndWait(ctx context.Context, req AskRequest) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.reportError(req, ErrCoordinatorClosed)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("panic in ask", "routingKey", req.RoutingKey, "panic", r)
			}
		}()

		if _, err := c.Ask(ctx, req); err != nil {
			c.reportError(req, err)
		}
	}()
}

// Pending returns the number of asks waiting for a reply.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels every waiting ask and waits for asynchronous asks to finish
// their cleanup.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closing)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Coordinator) newPendingRequest(req AskRequest) *pendingRequest {
	expected := req.ExpectedReplies
	if expected <= 0 {
		expected = 1
	}
	decode := req.Decode
	if decode == nil {
		decode = func(body []byte) (interface{}, error) { return body, nil }
	}
	return &pendingRequest{
		correlationID: uuid.NewString(),
		routingKey:    req.RoutingKey,
		expected:      expected,
		decode:        decode,
		handler:       req.Handler,
		state:         RequestIdle,
		done:          make(chan struct{}),
	}
}

// handleDelivery runs on the reply consumer goroutine. Every delivery is
// acknowledged exactly once, whatever happens to it.
func (c *Coordinator) handleDelivery(p *pendingRequest, d TransportDelivery) {
	defer func() {
		if err := d.Acknowledge(); err != nil {
			c.logger.Warn("failed to ack reply", "correlationId", p.correlationID, "error", err)
		}
	}()

	if d.CorrelationID() != p.correlationID {
		c.metrics.IncrementErrorCount(p.routingKey, ErrorTypeMismatch)
		c.logger.Warn("discarding reply with unexpected correlation id",
			"expected", p.correlationID,
			"received", d.CorrelationID(),
		)
		return
	}

	if p.currentState() != RequestAwaitingReply {
		c.logger.Debug("discarding late reply", "correlationId", p.correlationID)
		return
	}

	value, err := p.decode(d.Body())
	if err != nil {
		c.metrics.IncrementErrorCount(p.routingKey, ErrorTypeParse)
		c.logger.Warn("discarding unreadable reply", "correlationId", p.correlationID, "error", err)
		return
	}

	p.mu.Lock()
	if p.state != RequestAwaitingReply {
		p.mu.Unlock()
		return
	}
	p.replies = append(p.replies, value)
	matched := len(p.replies) >= p.expected
	if matched {
		p.state = RequestMatched
	}
	p.mu.Unlock()

	if p.handler != nil {
		handler := p.handler
		c.dispatcher.RunOnOwnerContext(func() { handler(value) })
	}

	if matched {
		close(p.done)
	}
}

func (c *Coordinator) removeQueue(ctx context.Context, routingKey, queue string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	defer cancel()

	if err := c.transport.ReplyQueues().Remove(cleanupCtx, queue); err != nil {
		c.metrics.IncrementErrorCount(routingKey, ErrorTypeRemove)
		c.logger.Warn("failed to remove reply queue", "queue", queue, "error", err)
	}
}

func (c *Coordinator) register(p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[p.correlationID] = p
}

func (c *Coordinator) unregister(p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, p.correlationID)
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) reportError(req AskRequest, err error) {
	if c.errorHandler != nil {
		c.errorHandler(req, err)
		return
	}
	c.logger.Error("ask failed", "routingKey", req.RoutingKey, "error", err)
}
