// Copyright 2024 Home-Code Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package homecode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abaland/Home-Code/contracts"
	"github.com/abaland/Home-Code/internal/rabbitmq"
	"github.com/abaland/Home-Code/internal/reliability"
	"github.com/abaland/Home-Code/messaging"
	"github.com/abaland/Home-Code/serialization"
	rabbitmqTransport "github.com/abaland/Home-Code/transports/rabbitmq"
)

// ErrNoConnectionString is returned by NewClient without a broker URL or transport.
var ErrNoConnectionString = errors.New("homecode: connection string is required")

// Alerter receives user-visible failures. Each failed send or ask produces
// exactly one alert.
type Alerter interface {
	Alert(tag string, err error)
}

// AlerterFunc adapts a function to Alerter
type AlerterFunc func(tag string, err error)

// Alert implements Alerter
func (f AlerterFunc) Alert(tag string, err error) {
	f(tag, err)
}

type logAlerter struct {
	logger *slog.Logger
}

func (a logAlerter) Alert(tag string, err error) {
	a.logger.Error("command failed", "tag", tag, "error", err)
}

// Client is the entry point for front ends. Its Send* methods never block
// on network I/O; replies and alerts are delivered through the Dispatcher.
type Client struct {
	transport   messaging.Transport
	publisher   *messaging.CommandPublisher
	coordinator *messaging.Coordinator
	dispatcher  messaging.Dispatcher
	alerter     Alerter
	logger      *slog.Logger

	defaultTimeout time.Duration
	connectPolicy  reliability.RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for the broker at connectionString. The
// connection is opened lazily by the first command or by Connect.
func NewClient(connectionString string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:         slog.Default(),
		exchange:       rabbitmq.DefaultExchange,
		exchangeKind:   "direct",
		connectTimeout: rabbitmq.DefaultConnectTimeout,
		defaultTimeout: messaging.DefaultAskTimeout,
		metrics:        messaging.NoOpMetricsCollector{},
		connectPolicy:  reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 10),
	}

	for _, opt := range options {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		if connectionString == "" {
			return nil, ErrNoConnectionString
		}
		transport = rabbitmqTransport.NewTransport(connectionString,
			rabbitmqTransport.WithLogger(cfg.logger),
			rabbitmqTransport.WithExchange(cfg.exchange, cfg.exchangeKind),
			rabbitmqTransport.WithConnectionOptions(
				rabbitmq.WithConnectTimeout(cfg.connectTimeout),
			),
		)
	}

	dispatcher := cfg.dispatcher
	if dispatcher == nil {
		dispatcher = messaging.NewInlineDispatcher(messaging.WithDispatcherLogger(cfg.logger))
	}

	alerter := cfg.alerter
	if alerter == nil {
		alerter = logAlerter{logger: cfg.logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:      transport,
		dispatcher:     dispatcher,
		alerter:        alerter,
		logger:         cfg.logger,
		defaultTimeout: cfg.defaultTimeout,
		connectPolicy:  cfg.connectPolicy,
		ctx:            ctx,
		cancel:         cancel,
	}

	c.publisher = messaging.NewCommandPublisher(
		transport.Publisher(),
		messaging.WithPublisherLogger(cfg.logger),
		messaging.WithPublisherMetrics(cfg.metrics),
		messaging.WithSendErrorHandler(func(routingKey string, err error) {
			c.alert(routingKey, err)
		}),
	)

	c.coordinator = messaging.NewCoordinator(
		transport,
		messaging.WithDispatcher(dispatcher),
		messaging.WithMetrics(cfg.metrics),
		messaging.WithCoordinatorLogger(cfg.logger),
		messaging.WithAskErrorHandler(func(req messaging.AskRequest, err error) {
			c.alert(req.RoutingKey, err)
		}),
	)

	return c, nil
}

// Connect blocks until the broker accepted a connection, retrying with the
// connect policy. Rejected credentials end the wait immediately.
func (c *Client) Connect(ctx context.Context) error {
	return reliability.Retry(ctx, c.connectPolicy, c.transport.Connect,
		reliability.WithOperation("connect"),
		reliability.WithRetryLogger(c.logger),
	)
}

// SendFireAndForget publishes payload with remoteID as routing key and
// returns immediately. A failure reaches the Alerter once.
func (c *Client) SendFireAndForget(remoteID, payload string) {
	c.publisher.SendAsync(c.ctx, remoteID, []byte(payload),
		messaging.WithContentType(serialization.ContentType),
	)
}

// SendAndAwait publishes payload with category as routing key and returns
// immediately. onResponse runs on the dispatcher once for the matching
// reply, and never when no reply arrived within timeout. A zero timeout uses
// the client default.
func (c *Client) SendAndAwait(category, payload string, timeout time.Duration, onResponse func(contracts.WorkerResponse)) {
	c.coordinator.AskAndWait(c.ctx, c.askRequest(category, []byte(payload), timeout, 1, onResponse))
}

// Send encodes in and publishes it, waiting for the broker to confirm it.
func (c *Client) Send(ctx context.Context, in contracts.Instruction) error {
	return c.publisher.Send(ctx, in.Type, serialization.EncodeInstruction(in),
		messaging.WithContentType(serialization.ContentType),
	)
}

// Ask encodes in, publishes it and waits for one reply per target zone.
// onResponse may be nil when only the result matters. A timeout is not an
// error: result.State is RequestTimedOut.
func (c *Client) Ask(ctx context.Context, in contracts.Instruction, timeout time.Duration, onResponse func(contracts.WorkerResponse)) (AskResult, error) {
	expected := len(in.Targets())
	req := c.askRequest(in.Type, serialization.EncodeInstruction(in), timeout, expected, onResponse)

	result, err := c.coordinator.Ask(ctx, req)
	out := AskResult{
		CorrelationID: result.CorrelationID,
		State:         result.State,
		Elapsed:       result.Elapsed,
	}
	for _, reply := range result.Replies {
		if resp, ok := reply.(contracts.WorkerResponse); ok {
			out.Responses = append(out.Responses, resp)
		}
	}
	return out, err
}

// AskResult is the outcome of Client.Ask
type AskResult struct {
	CorrelationID string
	State         messaging.RequestState
	Responses     []contracts.WorkerResponse
	Elapsed       time.Duration
}

// Matched reports whether every expected reply arrived.
func (r AskResult) Matched() bool {
	return r.State == messaging.RequestMatched
}

func (c *Client) askRequest(routingKey string, body []byte, timeout time.Duration, expected int, onResponse func(contracts.WorkerResponse)) messaging.AskRequest {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	req := messaging.AskRequest{
		RoutingKey:      routingKey,
		Body:            body,
		ContentType:     serialization.ContentType,
		Timeout:         timeout,
		ExpectedReplies: expected,
		Decode: func(body []byte) (interface{}, error) {
			return serialization.DecodeWorkerResponse(body)
		},
	}
	if onResponse != nil {
		req.Handler = func(reply interface{}) {
			onResponse(reply.(contracts.WorkerResponse))
		}
	}
	return req
}

func (c *Client) alert(tag string, err error) {
	c.dispatcher.RunOnOwnerContext(func() {
		c.alerter.Alert(tag, err)
	})
}

// IsConnected reports whether the broker connection is currently up
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// Transport returns the underlying transport
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// Coordinator returns the request/reply coordinator
func (c *Client) Coordinator() *messaging.Coordinator {
	return c.coordinator
}

// Publisher returns the command publisher
func (c *Client) Publisher() *messaging.CommandPublisher {
	return c.publisher
}

// Close waits for background sends to finish publishing, cancels waiting
// asks and closes the transport.
func (c *Client) Close() error {
	c.publisher.Close()
	c.cancel()
	c.coordinator.Close()
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// clientConfig holds client configuration
type clientConfig struct {
	logger         *slog.Logger
	transport      messaging.Transport
	dispatcher     messaging.Dispatcher
	alerter        Alerter
	metrics        messaging.MetricsCollector
	exchange       string
	exchangeKind   string
	connectTimeout time.Duration
	defaultTimeout time.Duration
	connectPolicy  reliability.RetryPolicy
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithTransport replaces the RabbitMQ transport
func WithTransport(transport messaging.Transport) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = transport
	}
}

// WithDispatcher sets where responses and alerts are delivered
func WithDispatcher(dispatcher messaging.Dispatcher) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dispatcher = dispatcher
	}
}

// WithAlerter sets the receiver of user-visible failures
func WithAlerter(alerter Alerter) ClientOption {
	return func(cfg *clientConfig) {
		cfg.alerter = alerter
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = metrics
	}
}

// WithExchange sets the command exchange
func WithExchange(name, kind string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = name
		cfg.exchangeKind = kind
	}
}

// WithConnectTimeout bounds a single dial
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithDefaultTimeout applies to asks given a zero timeout
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaultTimeout = timeout
	}
}

// WithConnectPolicy sets how Connect retries
func WithConnectPolicy(policy reliability.RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectPolicy = policy
	}
}
