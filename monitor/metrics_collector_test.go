package monitor

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/abaland/Home-Code/messaging"
	"github.com/stretchr/testify/assert"
)

func TestSimpleMetricsCollector(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		summary := collector.GetMetricsSummary()
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ErrorCounts)
		assert.Empty(t, summary.ProcessingStats)
		assert.Zero(t, summary.TotalErrors)
	})

	t.Run("IncrementMessageCount tracks commands", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementMessageCount("tv")
		collector.IncrementMessageCount("tv")
		collector.IncrementMessageCount("sensors")

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(2), summary.MessageCounts["tv"])
		assert.Equal(t, int64(1), summary.MessageCounts["sensors"])
	})

	t.Run("RecordProcessingTime tracks reply latency", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.RecordProcessingTime("sensors", 100*time.Millisecond)
		collector.RecordProcessingTime("sensors", 200*time.Millisecond)
		collector.RecordProcessingTime("sensors", 150*time.Millisecond)

		stats := collector.GetMetricsSummary().ProcessingStats["sensors"]
		assert.Equal(t, int64(3), stats.Count)
		assert.Equal(t, int64(150), stats.AvgMs)
		assert.Equal(t, int64(100), stats.MinMs)
		assert.Equal(t, int64(200), stats.MaxMs)
	})

	t.Run("IncrementErrorCount tracks failures", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementErrorCount("sensors", messaging.ErrorTypeTimeout)
		collector.IncrementErrorCount("sensors", messaging.ErrorTypeTimeout)
		collector.IncrementErrorCount("sensors", messaging.ErrorTypeMismatch)
		collector.IncrementErrorCount("tv", messaging.ErrorTypePublish)

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(2), summary.ErrorCounts["sensors"][messaging.ErrorTypeTimeout])
		assert.Equal(t, int64(1), collector.ErrorCount("sensors", messaging.ErrorTypeMismatch))
		assert.Equal(t, int64(1), collector.ErrorCount("tv", messaging.ErrorTypePublish))
		assert.Equal(t, int64(4), summary.TotalErrors)
	})

	t.Run("percentiles", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		for i := 10; i >= 1; i-- {
			collector.RecordProcessingTime("heartbeat", time.Duration(i*10)*time.Millisecond)
		}

		stats := collector.GetMetricsSummary().ProcessingStats["heartbeat"]
		assert.Equal(t, int64(50), stats.P50Ms)
		assert.Equal(t, int64(90), stats.P95Ms)
		assert.Equal(t, int64(90), stats.P99Ms)
	})

	t.Run("keeps the last samples only", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		for i := 0; i < maxSamples+20; i++ {
			collector.RecordProcessingTime("sensors", time.Millisecond)
		}

		assert.Len(t, collector.processingTimes["sensors"].samples, maxSamples)
		assert.Equal(t, int64(maxSamples+20), collector.GetMetricsSummary().ProcessingStats["sensors"].Count)
	})

	t.Run("TopErrors orders by count", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementErrorCount("sensors", messaging.ErrorTypeTimeout)
		collector.IncrementErrorCount("heartbeat", messaging.ErrorTypeTimeout)
		collector.IncrementErrorCount("tv", messaging.ErrorTypePublish)

		top := collector.TopErrors()
		assert.Len(t, top, 2)
		assert.Equal(t, messaging.ErrorTypeTimeout, top[0].ErrorType)
		assert.Equal(t, int64(2), top[0].Count)
		assert.InDelta(t, 2.0/3.0, top[0].Rate, 0.001)
	})

	t.Run("LogSummary writes one line per routing key", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		collector.IncrementMessageCount("tv")
		collector.IncrementMessageCount("sensors")
		collector.IncrementErrorCount("lights", messaging.ErrorTypePublish)

		var buf bytes.Buffer
		collector.LogSummary(slog.New(slog.NewTextHandler(&buf, nil)))

		out := buf.String()
		assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("command metrics")))
		assert.Contains(t, out, "routingKey=lights")
		assert.Contains(t, out, "failures=1")
	})

	t.Run("Reset clears all metrics", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		collector.IncrementMessageCount("tv")
		collector.RecordProcessingTime("tv", 100*time.Millisecond)
		collector.IncrementErrorCount("tv", messaging.ErrorTypePublish)

		collector.Reset()

		summary := collector.GetMetricsSummary()
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ProcessingStats)
		assert.Empty(t, summary.ErrorCounts)
	})

	t.Run("concurrent access", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		var wg sync.WaitGroup

		for i := 0; i < 100; i++ {
			wg.Add(3)
			go func() { defer wg.Done(); collector.IncrementMessageCount("sensors") }()
			go func(i int) {
				defer wg.Done()
				collector.RecordProcessingTime("sensors", time.Duration(i)*time.Millisecond)
			}(i)
			go func() { defer wg.Done(); collector.IncrementErrorCount("sensors", messaging.ErrorTypeTimeout) }()
		}
		wg.Wait()

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(100), summary.MessageCounts["sensors"])
		assert.Equal(t, int64(100), summary.ProcessingStats["sensors"].Count)
		assert.Equal(t, int64(100), summary.ErrorCounts["sensors"][messaging.ErrorTypeTimeout])
	})
}
