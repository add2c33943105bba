package chanmon

import (
	"fmt"
	"sync"
)

// Global monitoring state. The channel registry exists from package load so
// instrumentation works before (or without) Init; Init only attaches the
// export pipeline.
var (
	globalRegistry = NewRegistry(nil)
	globalExporter *Exporter
	initOnce       sync.Once
)

// Init initializes the global export pipeline. Channel monitors registered
// through Channel, before or after Init, are exported by it.
func Init(config Config) error {
	var initErr error

	initOnce.Do(func() {
		exp, err := NewExporter(config)
		if err != nil {
			initErr = err
			return
		}

		exp.Register(globalRegistry)
		exp.Register(NewRuntimeCollector(config.Logger))

		if err := exp.Start(); err != nil {
			initErr = err
			return
		}
		globalExporter = exp

		if config.Logger != nil {
			config.Logger.Info("channel monitoring initialized")
		}
	})

	return initErr
}

// Channel returns the global monitor for the named channel, registering it
// on first use.
func Channel(name string) *ChannelMonitor {
	return globalRegistry.GetOrRegister(name)
}

// Channels returns a snapshot of every globally registered channel.
func Channels() []ChannelStats {
	return globalRegistry.Snapshots()
}

// RegisterCollector registers a custom metrics collector with the global
// exporter.
func RegisterCollector(collector Collector) error {
	if globalExporter == nil {
		return fmt.Errorf("chanmon is not initialized")
	}
	globalExporter.Register(collector)
	return nil
}

// ForceWrite immediately writes all current metrics to the remote endpoint.
func ForceWrite() error {
	if globalExporter == nil {
		return fmt.Errorf("chanmon is not initialized")
	}
	return globalExporter.Write()
}

// Shutdown stops the global exporter and logs the final state of every
// registered channel monitor.
func Shutdown() {
	if globalExporter != nil {
		globalExporter.Stop()
		globalExporter = nil
	}
	globalRegistry.Close()
}
