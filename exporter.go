package chanmon

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// Config defines the configuration for the export pipeline
type Config struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	// Remote write configuration
	RemoteWriteURL      string
	RemoteWriteInterval time.Duration

	// Instance information
	InstanceIP   string
	CustomLabels map[string]string

	// Optional logger
	Logger *zap.Logger

	// DNS resolver options (optional, for advanced use cases)
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	ip, _ := GetOutboundIPv4()
	return Config{
		Namespace:           "app",
		Subsystem:           "prod",
		ServiceName:         "service",
		RemoteWriteInterval: 15 * time.Second,
		InstanceIP:          ip,
		CustomLabels:        make(map[string]string),
	}
}

// Exporter periodically gathers metrics from its registered collectors and
// publishes them to a Prometheus remote-write endpoint. It is the read-side
// consumer of the channel monitors: gathering is a pure snapshot and is safe
// to run at any frequency concurrently with writers.
type Exporter struct {
	config   Config
	resolver *resolver

	mu         sync.RWMutex
	client     *promwrite.Client
	collectors []Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExporter creates an exporter from the given configuration.
func NewExporter(config Config) (*Exporter, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	if config.InstanceIP == "" {
		ip, err := GetOutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}

	var client *promwrite.Client
	var res *resolver
	if config.RemoteWriteURL != "" {
		client = promwrite.NewClient(config.RemoteWriteURL)
		if u, err := url.Parse(config.RemoteWriteURL); err == nil {
			res = newResolver(u.Hostname(), config)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Exporter{
		config:   config,
		client:   client,
		resolver: res,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Register adds a collector to the export set.
func (e *Exporter) Register(collector Collector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collectors = append(e.collectors, collector)

	if e.config.Logger != nil {
		e.config.Logger.Debug("registered metrics collector",
			zap.String("collector", collector.Name()))
	}
}

// Start launches the periodic write loop and, when DNS resolution is
// configured, the endpoint refresh loop.
func (e *Exporter) Start() error {
	if e.currentClient() == nil {
		if e.config.Logger != nil {
			e.config.Logger.Warn("starting exporter without remote write URL")
		}
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		interval := pickDuration(e.config.RemoteWriteInterval, 15*time.Second)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := e.Write(); err != nil {
					if e.config.Logger != nil {
						e.config.Logger.Error("failed to write metrics", zap.Error(err))
					}
				}
			case <-e.ctx.Done():
				return
			}
		}
	}()

	if e.resolver != nil && e.resolver.active() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.resolver.cfg.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if e.resolver.refresh(e.ctx, false) {
						e.resetClient()
					}
				case <-e.ctx.Done():
					return
				}
			}
		}()
	}

	return nil
}

// Stop terminates the export loops and waits for them to finish.
func (e *Exporter) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Gather collects the current metrics from every registered collector.
func (e *Exporter) Gather() []Metric {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var metrics []Metric
	for _, collector := range e.collectors {
		metrics = append(metrics, collector.Collect()...)
	}
	return metrics
}

// Write gathers and publishes the current metrics immediately. On failure it
// forces a DNS refresh of the endpoint and retries once.
func (e *Exporter) Write() error {
	client := e.currentClient()
	if client == nil {
		return fmt.Errorf("no remote write client configured")
	}

	metrics := e.Gather()
	if len(metrics) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: e.toTimeSeries(metrics)}

	_, err := client.Write(ctx, req)
	if err == nil {
		return nil
	}

	if e.resolver != nil && e.resolver.refresh(ctx, true) {
		client = e.resetClient()
		if _, retryErr := client.Write(ctx, req); retryErr != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
		}
		return nil
	}
	return fmt.Errorf("writing time series failed: %w", err)
}

func (e *Exporter) currentClient() *promwrite.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// resetClient recreates the remote-write client to force new connections,
// typically after the endpoint's IP set changed.
func (e *Exporter) resetClient() *promwrite.Client {
	client := promwrite.NewClient(e.config.RemoteWriteURL)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	if e.config.Logger != nil {
		e.config.Logger.Info("refreshed remote write client",
			zap.String("host", e.resolver.host),
			zap.Strings("ips", e.resolver.resolvedIPs()))
	}
	return client
}

// toTimeSeries converts gathered metrics to promwrite time series, applying
// the namespace/subsystem prefix and the standard instance labels.
func (e *Exporter) toTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	prefix := fmt.Sprintf("%s_%s", e.config.Namespace, e.config.Subsystem)

	result := make([]promwrite.TimeSeries, 0, len(metrics))
	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 4+len(e.config.CustomLabels)+len(metric.Labels))

		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: fmt.Sprintf("%s_%s", prefix, metric.Name)},
			promwrite.Label{Name: "_instance_", Value: e.config.InstanceIP},
			promwrite.Label{Name: "instance", Value: e.config.InstanceIP},
			promwrite.Label{Name: "_target_", Value: e.config.ServiceName},
		)

		for k, v := range e.config.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}
	return result
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// GetOutboundIPv4 gets the outbound IPv4 address of the local machine
func GetOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
