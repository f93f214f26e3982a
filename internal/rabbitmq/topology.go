package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// CommandExchange is the direct exchange instructions are published to;
// workers bind their queues to it by instruction type.
func CommandExchange(name, kind string) ExchangeDeclaration {
	if name == "" {
		name = DefaultExchange
	}
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	return ExchangeDeclaration{
		Name:    name,
		Type:    kind,
		Durable: true,
	}
}

// DeclareExchanges declares each exchange on ch. Redeclaring an existing
// exchange with the same settings is a no-op on the broker.
func DeclareExchanges(ch Channel, exchanges ...ExchangeDeclaration) error {
	for _, exchange := range exchanges {
		err := ch.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			false, // internal
			false, // no-wait
			exchange.Arguments,
		)
		if err != nil {
			return &TopologyError{
				Component: "exchange",
				Name:      exchange.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}
	return nil
}

// DeclareOnConnect returns a connect hook that declares exchanges on every
// new channel.
func DeclareOnConnect(exchanges ...ExchangeDeclaration) OnConnectFunc {
	return func(_ context.Context, ch Channel) error {
		return DeclareExchanges(ch, exchanges...)
	}
}
