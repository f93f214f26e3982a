// Package rabbitmq provides the RabbitMQ transport of the home controller client.
//
// This package includes:
//   - ConnectionManager: owns the one shared connection and channel, connects lazily
//   - Publisher: publishes single messages to the command exchange with confirms
//   - ReplyQueueManager: declares and removes temporary reply queues
//   - DeclareExchanges: declares the command exchange on each new channel
//
// Nothing in this package retries. A failed dial or publish is reported to
// the caller and the transport is reset so the next call starts over.
package rabbitmq
