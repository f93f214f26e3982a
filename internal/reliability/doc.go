// Package reliability provides the retry policies used while waiting for the
// broker at startup.
//
// Per-command paths never retry: a failed publish or ask is reported once.
// Retry is only meant for loops that must block until the broker is up, like
// the client's Connect.
//
// Example usage:
//
//	policy := reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 10)
//	err := reliability.Retry(ctx, policy, transport.Connect,
//	    reliability.WithOperation("connect"),
//	)
//
// Errors implementing IsRetryable() bool are honoured, so a rejected login
// stops the loop immediately.
package reliability
