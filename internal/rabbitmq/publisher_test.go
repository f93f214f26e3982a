package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher(t *testing.T) {
	t.Run("NewPublisher creates with defaults", func(t *testing.T) {
		publisher := NewPublisher(newTestManager(&fakeDialer{}))

		assert.Equal(t, DefaultExchange, publisher.Exchange())
		assert.Equal(t, DefaultConfirmTimeout, publisher.confirmTimeout)
		assert.True(t, publisher.confirmMode)
		assert.NotNil(t, publisher.logger)
	})

	t.Run("publishes to the exchange and waits for the confirm", func(t *testing.T) {
		dialer := &fakeDialer{}
		publisher := NewPublisher(newTestManager(dialer))

		msg := amqp.Publishing{
			ContentType: "application/xml",
			Headers:     amqp.Table{"type": "tv"},
			Body:        []byte(`<instruction type="tv" button="KEY_POWER"/>`),
		}
		require.NoError(t, publisher.Publish(context.Background(), "tv", msg))
		require.NoError(t, publisher.Publish(context.Background(), "tv", msg))

		ch := dialer.last().channel
		published := ch.publishedMessages()
		require.Len(t, published, 2)
		assert.Equal(t, "ex", published[0].Exchange)
		assert.Equal(t, "tv", published[0].RoutingKey)
		assert.Equal(t, msg.Body, published[0].Msg.Body)
		assert.Equal(t, "tv", published[0].Msg.Headers["type"])
		assert.False(t, published[0].Msg.Timestamp.IsZero())
		assert.Equal(t, 1, ch.confirmCalls, "confirm mode is enabled once per channel")
	})

	t.Run("connection failure publishes nothing", func(t *testing.T) {
		dialer := &fakeDialer{err: errBrokerDown}
		publisher := NewPublisher(newTestManager(dialer))

		err := publisher.Publish(context.Background(), "tv", amqp.Publishing{})

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		var pubErr *PublishError
		assert.False(t, errors.As(err, &pubErr))
		assert.Nil(t, dialer.last())
	})

	t.Run("I/O error invalidates the transport", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(dialer)
		publisher := NewPublisher(manager)

		ch, err := manager.EnsureConnected(context.Background())
		require.NoError(t, err)
		ch.(*fakeChannel).publishErr = amqp.ErrClosed

		err = publisher.Publish(context.Background(), "lights", amqp.Publishing{})

		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, "ex", pubErr.Exchange)
		assert.Equal(t, "lights", pubErr.RoutingKey)
		assert.ErrorIs(t, err, amqp.ErrClosed)
		assert.Equal(t, StateDisconnected, manager.State())
	})

	t.Run("nack is reported without resetting the transport", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(dialer)
		publisher := NewPublisher(manager)

		ch, err := manager.EnsureConnected(context.Background())
		require.NoError(t, err)
		ch.(*fakeChannel).confirm = &fakeConfirmation{ack: false}

		err = publisher.Publish(context.Background(), "tv", amqp.Publishing{})

		assert.ErrorIs(t, err, ErrPublishNotConfirmed)
		assert.False(t, IsRetryable(err))
		assert.True(t, manager.IsConnected())
	})

	t.Run("missing confirm times out", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(dialer)
		publisher := NewPublisher(manager, WithConfirmTimeout(20*time.Millisecond))

		ch, err := manager.EnsureConnected(context.Background())
		require.NoError(t, err)
		ch.(*fakeChannel).confirm = &fakeConfirmation{block: true}

		err = publisher.Publish(context.Background(), "tv", amqp.Publishing{})

		assert.ErrorIs(t, err, ErrPublishTimeout)
		assert.False(t, manager.IsConnected())
	})

	t.Run("confirm failure invalidates the transport", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(dialer)
		publisher := NewPublisher(manager)

		ch, err := manager.EnsureConnected(context.Background())
		require.NoError(t, err)
		ch.(*fakeChannel).confirmErr = errors.New("confirm not supported")

		err = publisher.Publish(context.Background(), "tv", amqp.Publishing{})

		var pubErr *PublishError
		assert.ErrorAs(t, err, &pubErr)
		assert.Empty(t, ch.(*fakeChannel).publishedMessages())
		assert.False(t, manager.IsConnected())
	})

	t.Run("confirm mode off skips confirms", func(t *testing.T) {
		dialer := &fakeDialer{}
		publisher := NewPublisher(newTestManager(dialer), WithConfirmMode(false), WithExchange("commands"))

		require.NoError(t, publisher.Publish(context.Background(), "update", amqp.Publishing{}))

		ch := dialer.last().channel
		assert.Zero(t, ch.confirmCalls)
		assert.Equal(t, "commands", ch.publishedMessages()[0].Exchange)
	})

	t.Run("new channel gets confirm mode again", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(dialer)
		publisher := NewPublisher(manager)

		require.NoError(t, publisher.Publish(context.Background(), "tv", amqp.Publishing{}))
		first := dialer.last().channel
		manager.Invalidate(first, errors.New("reset"))

		require.NoError(t, publisher.Publish(context.Background(), "tv", amqp.Publishing{}))
		second := dialer.last().channel

		assert.NotSame(t, first, second)
		assert.Equal(t, 1, second.confirmCalls)
	})
}
