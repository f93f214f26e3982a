package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySink receives every delivery arriving on a reply queue. The sink
// owns acknowledgment.
type DeliverySink func(delivery amqp.Delivery)

// ReplyQueueManager declares and removes the temporary, server-named queues
// replies are delivered to.
type ReplyQueueManager struct {
	manager         *ConnectionManager
	tagPrefix       string
	logger          *slog.Logger
	activeConsumers sync.Map
}

// ReplyQueueOption configures the ReplyQueueManager
type ReplyQueueOption func(*ReplyQueueManager)

// WithReplyQueueLogger sets the logger
func WithReplyQueueLogger(logger *slog.Logger) ReplyQueueOption {
	return func(m *ReplyQueueManager) {
		m.logger = logger
	}
}

// WithConsumerTagPrefix sets the prefix of generated consumer tags
func WithConsumerTagPrefix(prefix string) ReplyQueueOption {
	return func(m *ReplyQueueManager) {
		m.tagPrefix = prefix
	}
}

// NewReplyQueueManager creates a new reply queue manager
func NewReplyQueueManager(manager *ConnectionManager, options ...ReplyQueueOption) *ReplyQueueManager {
	m := &ReplyQueueManager{
		manager:   manager,
		tagPrefix: "reply-",
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// replyConsumer tracks the consumer attached to a reply queue
type replyConsumer struct {
	Queue       string
	ConsumerTag string
	Channel     Channel
	Done        chan struct{}
}

// Declare creates a non-durable, exclusive, auto-delete queue with a
// broker-assigned name and starts a manual-ack consumer on it that hands
// each delivery to sink. It returns the queue name.
func (m *ReplyQueueManager) Declare(ctx context.Context, sink DeliverySink) (string, error) {
	ch, err := m.manager.EnsureConnected(ctx)
	if err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		m.manager.Invalidate(ch, err)
		return "", m.queueError("", "declare", err)
	}

	tag := m.tagPrefix + uuid.NewString()
	deliveries, err := ch.Consume(
		q.Name,
		tag,
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		if _, delErr := ch.QueueDelete(q.Name, false, false, false); delErr != nil {
			m.logger.Warn("failed to delete reply queue after consume error", "queue", q.Name, "error", delErr)
		}
		m.manager.Invalidate(ch, err)
		return "", m.queueError(q.Name, "consume", err)
	}

	info := &replyConsumer{
		Queue:       q.Name,
		ConsumerTag: tag,
		Channel:     ch,
		Done:        make(chan struct{}),
	}
	m.activeConsumers.Store(q.Name, info)

	go m.processDeliveries(info, deliveries, sink)

	m.logger.Debug("reply queue declared", "queue", q.Name, "consumerTag", tag)
	return q.Name, nil
}

// Remove cancels the consumer on name and deletes the queue. A queue whose
// channel is already closed went away with it, so nothing is sent.
func (m *ReplyQueueManager) Remove(ctx context.Context, name string) error {
	value, ok := m.activeConsumers.LoadAndDelete(name)
	if !ok {
		return m.queueError(name, "remove", fmt.Errorf("no active consumer for queue"))
	}
	info := value.(*replyConsumer)

	if info.Channel.IsClosed() {
		m.logger.Debug("reply queue gone with its channel", "queue", name)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return m.queueError(name, "remove", err)
	}

	if err := info.Channel.Cancel(info.ConsumerTag, false); err != nil {
		m.manager.Invalidate(info.Channel, err)
		return m.queueError(name, "cancel", err)
	}

	if _, err := info.Channel.QueueDelete(name, false, false, false); err != nil {
		m.manager.Invalidate(info.Channel, err)
		return m.queueError(name, "delete", err)
	}

	m.logger.Debug("reply queue removed", "queue", name)
	return nil
}

// Active returns the names of queues that have not been removed yet.
func (m *ReplyQueueManager) Active() []string {
	var queues []string
	m.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}

// processDeliveries forwards deliveries until the broker closes the
// delivery channel, which happens on Cancel or when the channel dies.
func (m *ReplyQueueManager) processDeliveries(info *replyConsumer, deliveries <-chan amqp.Delivery, sink DeliverySink) {
	defer close(info.Done)

	for delivery := range deliveries {
		m.handleDelivery(info, delivery, sink)
	}
	m.logger.Debug("reply consumer stopped", "queue", info.Queue)
}

func (m *ReplyQueueManager) handleDelivery(info *replyConsumer, delivery amqp.Delivery, sink DeliverySink) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in reply handler",
				"queue", info.Queue,
				"correlationId", delivery.CorrelationId,
				"panic", r,
			)
			if err := delivery.Reject(false); err != nil {
				m.logger.Error("failed to reject message", "error", err)
			}
		}
	}()

	sink(delivery)
}

func (m *ReplyQueueManager) queueError(name, op string, err error) *QueueError {
	return &QueueError{
		Queue:     name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
