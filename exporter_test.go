package chanmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubCollector struct {
	name    string
	metrics []Metric
}

func (s *stubCollector) Name() string      { return s.name }
func (s *stubCollector) Collect() []Metric { return s.metrics }

func testConfig() Config {
	return Config{
		Namespace:   "app",
		Subsystem:   "test",
		ServiceName: "svc",
		InstanceIP:  "127.0.0.1",
	}
}

func TestNewExporterRequiresServiceName(t *testing.T) {
	_, err := NewExporter(Config{InstanceIP: "127.0.0.1"})
	require.Error(t, err)
}

func TestExporterGather(t *testing.T) {
	e, err := NewExporter(testConfig())
	require.NoError(t, err)

	require.Empty(t, e.Gather())

	e.Register(&stubCollector{
		name: "stub",
		metrics: []Metric{
			{Name: "send_total", Value: 7, MetricType: Counter, Timestamp: time.Now()},
		},
	})

	metrics := e.Gather()
	require.Len(t, metrics, 1)
	require.Equal(t, 7.0, metrics[0].Value)
}

func TestExporterWriteWithoutClient(t *testing.T) {
	e, err := NewExporter(testConfig())
	require.NoError(t, err)

	require.Error(t, e.Write())
}

func TestExporterStartStopWithoutRemoteWrite(t *testing.T) {
	e, err := NewExporter(testConfig())
	require.NoError(t, err)

	require.NoError(t, e.Start())
	e.Stop()
}

func TestExporterToTimeSeries(t *testing.T) {
	config := testConfig()
	config.CustomLabels = map[string]string{"env": "ci"}
	e, err := NewExporter(config)
	require.NoError(t, err)

	ts := time.Now()
	series := e.toTimeSeries([]Metric{
		{
			Name:       "send_rate",
			Value:      42.5,
			Labels:     map[string]string{"channel": "orders"},
			MetricType: Gauge,
			Timestamp:  ts,
		},
	})
	require.Len(t, series, 1)

	labels := make(map[string]string)
	for _, l := range series[0].Labels {
		labels[l.Name] = l.Value
	}

	require.Equal(t, "app_test_send_rate", labels["__name__"])
	require.Equal(t, "127.0.0.1", labels["instance"])
	require.Equal(t, "svc", labels["_target_"])
	require.Equal(t, "ci", labels["env"])
	require.Equal(t, "orders", labels["channel"])
	require.Equal(t, 42.5, series[0].Sample.Value)
	require.Equal(t, ts, series[0].Sample.Time)
}

func TestExporterExportsRegistry(t *testing.T) {
	e, err := NewExporter(testConfig())
	require.NoError(t, err)

	r := NewRegistry(nil)
	r.GetOrRegister("orders").OnStart()
	e.Register(r)

	metrics := e.Gather()
	require.Len(t, metrics, 10)
	require.Equal(t, "orders", metrics[0].Labels["channel"])
}

func TestRuntimeCollector(t *testing.T) {
	c := NewRuntimeCollector(nil)
	require.Equal(t, "runtime", c.Name())

	metrics := c.Collect()
	require.NotEmpty(t, metrics)

	byName := make(map[string]Metric, len(metrics))
	for _, m := range metrics {
		byName[m.Name] = m
	}
	require.Greater(t, byName["goroutines_num"].Value, 0.0)
	require.Greater(t, byName["memory_alloc_bytes"].Value, 0.0)
	require.GreaterOrEqual(t, byName["uptime_seconds"].Value, 0.0)
}
