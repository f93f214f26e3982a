package messaging

import (
	"time"
)

// MetricsCollector collects messaging metrics. Keys are routing keys;
// error types are short tags such as "timeout" or "mismatch".
type MetricsCollector interface {
	// IncrementMessageCount records one published message
	IncrementMessageCount(messageType string)

	// RecordProcessingTime records the publish-to-reply latency
	RecordProcessingTime(messageType string, duration time.Duration)

	// IncrementErrorCount records a failure of the given kind
	IncrementErrorCount(messageType string, errorType string)
}

// Error types reported to MetricsCollector.
const (
	ErrorTypeDeclare  = "declare"
	ErrorTypePublish  = "publish"
	ErrorTypeTimeout  = "timeout"
	ErrorTypeMismatch = "mismatch"
	ErrorTypeParse    = "parse"
	ErrorTypeRemove   = "remove"
)

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// IncrementMessageCount does nothing
func (NoOpMetricsCollector) IncrementMessageCount(messageType string) {}

// RecordProcessingTime does nothing
func (NoOpMetricsCollector) RecordProcessingTime(messageType string, duration time.Duration) {}

// IncrementErrorCount does nothing
func (NoOpMetricsCollector) IncrementErrorCount(messageType string, errorType string) {}
