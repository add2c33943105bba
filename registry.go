package chanmon

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Registry owns one ChannelMonitor per monitored channel. Monitors are
// created at registration time and live for the lifetime of the registry.
// The registry is itself a Collector aggregating all channel statistics.
type Registry struct {
	logger *zap.Logger
	clk    clock.Clock

	mu       sync.RWMutex
	monitors map[string]*ChannelMonitor
}

// NewRegistry creates an empty channel registry. The logger is optional.
func NewRegistry(logger *zap.Logger) *Registry {
	return newRegistry(logger, clock.New())
}

func newRegistry(logger *zap.Logger, clk clock.Clock) *Registry {
	return &Registry{
		logger:   logger,
		clk:      clk,
		monitors: make(map[string]*ChannelMonitor),
	}
}

// GetOrRegister returns the monitor for the named channel, creating and
// registering it on first use. Safe for concurrent callers; all callers for
// the same name observe the same monitor.
func (r *Registry) GetOrRegister(name string) *ChannelMonitor {
	r.mu.RLock()
	m, ok := r.monitors[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.monitors[name]; !ok {
		m = newChannelMonitor(name, r.logger, r.clk)
		r.monitors[name] = m
		if r.logger != nil {
			r.logger.Debug("registered channel monitor", zap.String("channel", name))
		}
	}
	return m
}

// Get returns the monitor for the named channel, if registered.
func (r *Registry) Get(name string) (*ChannelMonitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[name]
	return m, ok
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshots returns a snapshot per registered channel, ordered by name.
func (r *Registry) Snapshots() []ChannelStats {
	r.mu.RLock()
	monitors := make([]*ChannelMonitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	sort.Slice(monitors, func(i, j int) bool { return monitors[i].name < monitors[j].name })
	stats := make([]ChannelStats, 0, len(monitors))
	for _, m := range monitors {
		stats = append(stats, m.Snapshot())
	}
	return stats
}

// Name implements Collector.
func (r *Registry) Name() string {
	return "channels"
}

// Collect implements Collector by aggregating every registered monitor.
func (r *Registry) Collect() []Metric {
	r.mu.RLock()
	monitors := make([]*ChannelMonitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	var metrics []Metric
	for _, m := range monitors {
		metrics = append(metrics, m.Collect()...)
	}
	return metrics
}

// Close logs the final state of every registered monitor.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.monitors {
		m.Close()
	}
}
