package rabbitmq

import (
	"context"
	"log/slog"

	"github.com/abaland/Home-Code/internal/rabbitmq"
	"github.com/abaland/Home-Code/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager     *rabbitmq.ConnectionManager
	publisher   *rabbitmq.Publisher
	replyQueues *rabbitmq.ReplyQueueManager
	persistent  bool
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
	ReplyQueueOptions []rabbitmq.ReplyQueueOption
	Exchange          rabbitmq.ExchangeDeclaration
	DeclareExchange   bool
	Persistent        bool
	Logger            *slog.Logger
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithReplyQueueOptions sets reply queue options
func WithReplyQueueOptions(opts ...rabbitmq.ReplyQueueOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ReplyQueueOptions = append(cfg.ReplyQueueOptions, opts...)
	}
}

// WithExchange sets the command exchange name and kind
func WithExchange(name, kind string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = rabbitmq.CommandExchange(name, kind)
	}
}

// WithExchangeDeclaration enables or disables declaring the exchange on connect
func WithExchangeDeclaration(enabled bool) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DeclareExchange = enabled
	}
}

// WithPersistentMessages marks published commands as persistent
func WithPersistentMessages(enabled bool) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Persistent = enabled
	}
}

// WithLogger sets the logger of every component of the transport
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// NewTransport creates a new RabbitMQ transport. No connection is made until
// the first publish, reply queue or Connect call.
func NewTransport(connectionString string, options ...TransportOption) *Transport {
	cfg := &TransportConfig{
		Exchange:        rabbitmq.CommandExchange("", ""),
		DeclareExchange: true,
		Logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	connOpts := []rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}
	if cfg.DeclareExchange {
		connOpts = append(connOpts, rabbitmq.WithOnConnect(rabbitmq.DeclareOnConnect(cfg.Exchange)))
	}
	connOpts = append(connOpts, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(connectionString, connOpts...)

	pubOpts := append([]rabbitmq.PublisherOption{
		rabbitmq.WithExchange(cfg.Exchange.Name),
		rabbitmq.WithPublisherLogger(cfg.Logger),
	}, cfg.PublisherOptions...)

	queueOpts := append([]rabbitmq.ReplyQueueOption{
		rabbitmq.WithReplyQueueLogger(cfg.Logger),
	}, cfg.ReplyQueueOptions...)

	return &Transport{
		manager:     manager,
		publisher:   rabbitmq.NewPublisher(manager, pubOpts...),
		replyQueues: rabbitmq.NewReplyQueueManager(manager, queueOpts...),
		persistent:  cfg.Persistent,
	}
}

// Publisher returns a transport publisher
func (t *Transport) Publisher() messaging.TransportPublisher {
	return &publisherAdapter{publisher: t.publisher, persistent: t.persistent}
}

// ReplyQueues returns the reply queue lifecycle
func (t *Transport) ReplyQueues() messaging.ReplyQueues {
	return &replyQueuesAdapter{queues: t.replyQueues}
}

// Manager returns the connection manager shared by all components.
func (t *Transport) Manager() *rabbitmq.ConnectionManager {
	return t.manager
}

// Connect establishes connection to the broker
func (t *Transport) Connect(ctx context.Context) error {
	_, err := t.manager.EnsureConnected(ctx)
	return err
}

// Close closes all resources
func (t *Transport) Close() error {
	return t.manager.Close()
}

// IsConnected returns connection status
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// publisherAdapter adapts RabbitMQ publisher to TransportPublisher
type publisherAdapter struct {
	publisher  *rabbitmq.Publisher
	persistent bool
}

// Publish implements TransportPublisher
func (p *publisherAdapter) Publish(ctx context.Context, msg messaging.Message) error {
	publishing := amqp.Publishing{
		ContentType:   msg.ContentType,
		Body:          msg.Body,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		DeliveryMode:  amqp.Transient,
	}
	if p.persistent {
		publishing.DeliveryMode = amqp.Persistent
	}

	if len(msg.Headers) > 0 {
		publishing.Headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			publishing.Headers[k] = v
		}
	}

	return p.publisher.Publish(ctx, msg.RoutingKey, publishing)
}

// replyQueuesAdapter adapts the reply queue manager to messaging.ReplyQueues
type replyQueuesAdapter struct {
	queues *rabbitmq.ReplyQueueManager
}

// Declare implements messaging.ReplyQueues
func (r *replyQueuesAdapter) Declare(ctx context.Context, handler func(messaging.TransportDelivery)) (string, error) {
	return r.queues.Declare(ctx, func(d amqp.Delivery) {
		handler(&deliveryAdapter{delivery: d})
	})
}

// Remove implements messaging.ReplyQueues
func (r *replyQueuesAdapter) Remove(ctx context.Context, name string) error {
	return r.queues.Remove(ctx, name)
}

// deliveryAdapter adapts amqp.Delivery to TransportDelivery
type deliveryAdapter struct {
	delivery amqp.Delivery
}

// Body implements TransportDelivery
func (d *deliveryAdapter) Body() []byte {
	return d.delivery.Body
}

// CorrelationID implements TransportDelivery
func (d *deliveryAdapter) CorrelationID() string {
	return d.delivery.CorrelationId
}

// Acknowledge implements TransportDelivery
func (d *deliveryAdapter) Acknowledge() error {
	return d.delivery.Ack(false)
}

// Reject implements TransportDelivery
func (d *deliveryAdapter) Reject(requeue bool) error {
	return d.delivery.Reject(requeue)
}
