// Package messaging implements the command patterns of the home controller
// client on top of a broker Transport.
//
// This package implements:
//   - CommandPublisher: fire-and-forget commands, synchronous or on a background goroutine
//   - Coordinator: request/reply with a fresh correlation id and a temporary reply queue per ask
//   - Dispatcher: runs reply handlers on their owner context (InlineDispatcher, LoopDispatcher)
//
// A reply is only ever matched by correlation id. Replies carrying another id
// are acknowledged and dropped, and every reply queue is removed when its ask
// ends, whether it matched, timed out, failed or was cancelled.
//
// Example usage:
//
//	coordinator := messaging.NewCoordinator(transport, messaging.WithDispatcher(ui))
//	result, err := coordinator.Ask(ctx, messaging.AskRequest{
//		RoutingKey: "sensors",
//		Body:       body,
//		Timeout:    3 * time.Second,
//		Handler:    func(reply interface{}) { render(reply) },
//	})
package messaging
