// Package chanmon maintains live, low-overhead send statistics for logical
// message channels: throughput, error rate, success ratio, and duration
// distribution, computed with exponential decay in bounded memory and no raw
// sample retention.
//
// Design goals:
//   - Cheap hot-path updates: one atomic increment plus one short
//     lock-protected smoothing step per event
//   - Pure, idempotent reads that are safe to poll at any frequency from
//     other goroutines
//   - Live staleness: a rate estimate falls toward zero while no events
//     arrive, instead of averaging old history forever
//   - Prometheus remote-write export of every channel's statistics
//
// Basic usage:
//
//	config := chanmon.DefaultConfig()
//	config.ServiceName = "orders"
//	config.RemoteWriteURL = "http://prometheus:9090/api/v1/write"
//
//	if err := chanmon.Init(config); err != nil {
//	  log.Fatal(err)
//	}
//	defer chanmon.Shutdown()
//
//	mon := chanmon.Channel("orders.outbound")
//	err := mon.Timed(func() error {
//	  return ch.Send(msg)
//	})
//
// Callers that measure time themselves use the hook pair directly: OnStart
// before the work, OnComplete with the outcome and elapsed time after it.
package chanmon
