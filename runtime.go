package chanmon

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// RuntimeCollector reports basic process health alongside the channel
// statistics: memory, goroutine count, GC activity, and uptime.
type RuntimeCollector struct {
	logger *zap.Logger
	start  time.Time
}

// NewRuntimeCollector creates a runtime metrics collector.
func NewRuntimeCollector(logger *zap.Logger) *RuntimeCollector {
	return &RuntimeCollector{
		logger: logger,
		start:  time.Now(),
	}
}

// Name implements Collector.
func (c *RuntimeCollector) Name() string {
	return "runtime"
}

// Collect implements Collector.
func (c *RuntimeCollector) Collect() []Metric {
	now := time.Now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	gauge := func(name string, value float64) Metric {
		return Metric{Name: name, Value: value, Labels: map[string]string{}, MetricType: Gauge, Timestamp: now}
	}

	return []Metric{
		gauge("memory_alloc_bytes", float64(ms.Alloc)),
		gauge("memory_sys_bytes", float64(ms.Sys)),
		gauge("memory_heap_inuse_bytes", float64(ms.HeapInuse)),
		gauge("goroutines_num", float64(runtime.NumGoroutine())),
		{Name: "gc_runs_total", Value: float64(ms.NumGC), Labels: map[string]string{}, MetricType: Counter, Timestamp: now},
		gauge("uptime_seconds", now.Sub(c.start).Seconds()),
	}
}
