package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Confirmation is a pending publisher confirm.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Channel is the part of *amqp.Channel the client depends on.
type Channel interface {
	IsClosed() bool
	Confirm(noWait bool) error
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the part of *amqp.Connection the client depends on.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string, config amqp.Config) (Connection, error)

// DialAMQP is the default Dialer.
func DialAMQP(url string, config amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(url, config)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{Channel: ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

// Publish returns a nil Confirmation when the channel is not in confirm mode.
func (c *amqpChannel) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}
