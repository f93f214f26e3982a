package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/abaland/Home-Code/messaging"
)

const maxSamples = 100

// SimpleMetricsCollector is an in-memory messaging.MetricsCollector keyed by
// routing key (the instruction type).
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	// Message counters by routing key
	messageCounters map[string]int64

	// Error counters by routing key and error type
	errorCounters map[string]map[string]int64

	// Reply latency by routing key
	processingTimes map[string]*TimeStats
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // last maxSamples, oldest first
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		messageCounters: make(map[string]int64),
		errorCounters:   make(map[string]map[string]int64),
		processingTimes: make(map[string]*TimeStats),
	}
}

// IncrementMessageCount implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) IncrementMessageCount(messageType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCounters[messageType]++
}

// RecordProcessingTime implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(messageType string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	durationMs := duration.Milliseconds()

	stats, exists := c.processingTimes[messageType]
	if !exists {
		stats = &TimeStats{
			MinMs:   durationMs,
			MaxMs:   durationMs,
			samples: make([]int64, 0, maxSamples),
		}
		c.processingTimes[messageType] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	if durationMs < stats.MinMs {
		stats.MinMs = durationMs
	}
	if durationMs > stats.MaxMs {
		stats.MaxMs = durationMs
	}

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, durationMs)
}

// IncrementErrorCount implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(messageType string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[messageType] == nil {
		c.errorCounters[messageType] = make(map[string]int64)
	}
	c.errorCounters[messageType][errorType]++
}

// GetMetricsSummary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		MessageCounts:   make(map[string]int64, len(c.messageCounters)),
		ErrorCounts:     make(map[string]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[string]ProcessingStats, len(c.processingTimes)),
	}

	for msgType, count := range c.messageCounters {
		summary.MessageCounts[msgType] = count
	}

	for msgType, errs := range c.errorCounters {
		summary.ErrorCounts[msgType] = make(map[string]int64, len(errs))
		for errorType, count := range errs {
			summary.ErrorCounts[msgType][errorType] = count
			summary.TotalErrors += count
		}
	}

	for msgType, stats := range c.processingTimes {
		procStats := ProcessingStats{
			Count: stats.Count,
			MinMs: stats.MinMs,
			MaxMs: stats.MaxMs,
		}
		if stats.Count > 0 {
			procStats.AvgMs = stats.TotalMs / stats.Count
		}
		if len(stats.samples) > 0 {
			sorted := append([]int64(nil), stats.samples...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			procStats.P50Ms = percentile(sorted, 0.50)
			procStats.P95Ms = percentile(sorted, 0.95)
			procStats.P99Ms = percentile(sorted, 0.99)
		}
		summary.ProcessingStats[msgType] = procStats
	}

	return summary
}

// ErrorCount returns the count of one error type for a routing key
func (c *SimpleMetricsCollector) ErrorCount(messageType, errorType string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorCounters[messageType][errorType]
}

// TopErrors returns error types ordered by count, highest first.
func (c *SimpleMetricsCollector) TopErrors() []ErrorTypeStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totals := make(map[string]int64)
	var total int64
	for _, errs := range c.errorCounters {
		for errorType, count := range errs {
			totals[errorType] += count
			total += count
		}
	}

	top := make([]ErrorTypeStats, 0, len(totals))
	for errorType, count := range totals {
		top = append(top, ErrorTypeStats{
			ErrorType: errorType,
			Count:     count,
			Rate:      float64(count) / float64(total),
		})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].ErrorType < top[j].ErrorType
	})
	return top
}

// LogSummary writes one line per routing key
func (c *SimpleMetricsCollector) LogSummary(logger *slog.Logger) {
	summary := c.GetMetricsSummary()

	keys := make([]string, 0, len(summary.MessageCounts))
	for k := range summary.MessageCounts {
		keys = append(keys, k)
	}
	for k := range summary.ErrorCounts {
		if _, ok := summary.MessageCounts[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		stats := summary.ProcessingStats[k]
		errs := summary.ErrorCounts[k]
		logger.Info("command metrics",
			"routingKey", k,
			"sent", summary.MessageCounts[k],
			"replies", stats.Count,
			"avgMs", stats.AvgMs,
			"p95Ms", stats.P95Ms,
			"timeouts", errs[messaging.ErrorTypeTimeout],
			"mismatches", errs[messaging.ErrorTypeMismatch],
			"failures", errs[messaging.ErrorTypePublish]+errs[messaging.ErrorTypeDeclare],
		)
	}
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*TimeStats)
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	MessageCounts   map[string]int64            `json:"message_counts"`
	ErrorCounts     map[string]map[string]int64 `json:"error_counts"`
	ProcessingStats map[string]ProcessingStats  `json:"processing_stats"`
	TotalErrors     int64                       `json:"total_errors"`
}

// ProcessingStats represents reply latency statistics for a routing key
type ProcessingStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// ErrorTypeStats represents statistics for a specific error type
type ErrorTypeStats struct {
	ErrorType string  `json:"error_type"`
	Count     int64   `json:"count"`
	Rate      float64 `json:"rate"`
}

var _ messaging.MetricsCollector = (*SimpleMetricsCollector)(nil)
