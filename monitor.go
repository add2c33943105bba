package chanmon

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Rate defaults; rates are reported per second and a warm estimate survives
// about a minute of idle time before reading near zero.
const (
	DefaultRatePeriod      = time.Second
	DefaultAveragingPeriod = time.Minute
)

// ChannelStats is a point-in-time snapshot of one channel's send statistics.
// Durations and the idle gap are in seconds, rates in sends per second.
type ChannelStats struct {
	Name                          string  `json:"name"`
	SendCount                     int64   `json:"sendCount"`
	SendErrorCount                int64   `json:"sendErrorCount"`
	TimeSinceLastSend             float64 `json:"timeSinceLastSend"`
	SendRate                      float64 `json:"sendRate"`
	ErrorRate                     float64 `json:"errorRate"`
	ErrorRatio                    float64 `json:"errorRatio"`
	MeanSendDuration              float64 `json:"meanSendDuration"`
	MinSendDuration               float64 `json:"minSendDuration"`
	MaxSendDuration               float64 `json:"maxSendDuration"`
	StandardDeviationSendDuration float64 `json:"standardDeviationSendDuration"`
}

// ChannelMonitor accumulates live send statistics for one monitored channel.
//
// The caller performing the monitored operation invokes OnStart before the
// work and OnComplete with the outcome and elapsed time after it; readers
// poll the accessors concurrently at any time. All state is owned by the
// monitor, one instance per channel.
type ChannelMonitor struct {
	name   string
	logger *zap.Logger
	clk    clock.Clock

	counters     Counters
	sendDuration *DurationHistory
	sendRate     *RateHistory
	errorRate    *RateHistory
	successRatio *RatioHistory
}

// NewChannelMonitor creates a monitor for the named channel. The logger is
// optional.
func NewChannelMonitor(name string, logger *zap.Logger) *ChannelMonitor {
	return newChannelMonitor(name, logger, clock.New())
}

func newChannelMonitor(name string, logger *zap.Logger, clk clock.Clock) *ChannelMonitor {
	return &ChannelMonitor{
		name:         name,
		logger:       logger,
		clk:          clk,
		sendDuration: NewDurationHistory(DefaultWindow),
		sendRate:     newRateHistory(DefaultRatePeriod, DefaultAveragingPeriod, DefaultWindow, clk),
		errorRate:    newRateHistory(DefaultRatePeriod, DefaultAveragingPeriod, DefaultWindow, clk),
		successRatio: NewRatioHistory(DefaultWindow),
	}
}

// Name returns the monitored channel name.
func (m *ChannelMonitor) Name() string {
	return m.name
}

// OnStart records the beginning of one send attempt: the attempt is counted
// and the throughput rate is incremented, regardless of eventual outcome.
func (m *ChannelMonitor) OnStart() {
	m.counters.IncTotal()
	m.sendRate.Increment()
}

// OnComplete records the outcome of one send attempt previously announced
// via OnStart. A successful attempt contributes its duration and a success
// outcome; a failed attempt contributes to the error counter, the error
// rate, and a failure outcome. Durations of failed attempts are not
// recorded.
func (m *ChannelMonitor) OnComplete(ok bool, d time.Duration) {
	if ok {
		m.successRatio.Success()
		m.sendDuration.Append(d.Seconds())
		return
	}
	m.counters.IncError()
	m.successRatio.Failure()
	m.errorRate.Increment()
}

// Timed runs fn as one monitored send attempt, timing it and recording the
// outcome. The error returned by fn is passed through unchanged.
func (m *ChannelMonitor) Timed(fn func() error) error {
	m.OnStart()
	start := m.clk.Now()
	if err := fn(); err != nil {
		m.OnComplete(false, 0)
		return err
	}
	m.OnComplete(true, m.clk.Now().Sub(start))
	return nil
}

// SendCount returns the total number of send attempts.
func (m *ChannelMonitor) SendCount() int64 {
	return m.counters.Total()
}

// SendErrorCount returns the number of failed send attempts.
func (m *ChannelMonitor) SendErrorCount() int64 {
	return m.counters.Errors()
}

// TimeSinceLastSend returns the elapsed time since the most recent attempt,
// or 0 before any attempt.
func (m *ChannelMonitor) TimeSinceLastSend() time.Duration {
	return m.sendRate.TimeSinceLastEvent()
}

// SendRate returns the live estimate of sends per second.
func (m *ChannelMonitor) SendRate() float64 {
	return m.sendRate.Mean()
}

// ErrorRate returns the live estimate of failed sends per second.
func (m *ChannelMonitor) ErrorRate() float64 {
	return m.errorRate.Mean()
}

// ErrorRatio returns the decayed proportion of failed attempts in [0, 1],
// or 0 before any completed attempt.
func (m *ChannelMonitor) ErrorRatio() float64 {
	if m.successRatio.Count() == 0 {
		return 0
	}
	return 1 - m.successRatio.Mean()
}

// MeanSendDuration returns the decayed mean duration of successful sends,
// in seconds.
func (m *ChannelMonitor) MeanSendDuration() float64 {
	return m.sendDuration.Mean()
}

// MinSendDuration returns the shortest successful send seen, in seconds.
func (m *ChannelMonitor) MinSendDuration() float64 {
	return m.sendDuration.Min()
}

// MaxSendDuration returns the longest successful send seen, in seconds.
func (m *ChannelMonitor) MaxSendDuration() float64 {
	return m.sendDuration.Max()
}

// StandardDeviationSendDuration returns the decayed standard deviation of
// successful send durations, in seconds.
func (m *ChannelMonitor) StandardDeviationSendDuration() float64 {
	return m.sendDuration.StandardDeviation()
}

// Snapshot captures all statistics at once. Values are read independently;
// a snapshot taken while writers are active is eventually consistent across
// fields, never torn within one.
func (m *ChannelMonitor) Snapshot() ChannelStats {
	return ChannelStats{
		Name:                          m.name,
		SendCount:                     m.SendCount(),
		SendErrorCount:                m.SendErrorCount(),
		TimeSinceLastSend:             m.TimeSinceLastSend().Seconds(),
		SendRate:                      m.SendRate(),
		ErrorRate:                     m.ErrorRate(),
		ErrorRatio:                    m.ErrorRatio(),
		MeanSendDuration:              m.MeanSendDuration(),
		MinSendDuration:               m.MinSendDuration(),
		MaxSendDuration:               m.MaxSendDuration(),
		StandardDeviationSendDuration: m.StandardDeviationSendDuration(),
	}
}

// Collect implements Collector; every statistic is emitted with a channel
// label so monitors for different channels stay distinct series.
func (m *ChannelMonitor) Collect() []Metric {
	now := m.clk.Now()
	labels := map[string]string{"channel": m.name}

	stats := m.Snapshot()
	gauge := func(name string, value float64) Metric {
		return Metric{Name: name, Value: value, Labels: labels, MetricType: Gauge, Timestamp: now}
	}

	return []Metric{
		{Name: "send_total", Value: float64(stats.SendCount), Labels: labels, MetricType: Counter, Timestamp: now},
		{Name: "send_errors_total", Value: float64(stats.SendErrorCount), Labels: labels, MetricType: Counter, Timestamp: now},
		gauge("time_since_last_send_seconds", stats.TimeSinceLastSend),
		gauge("send_rate", stats.SendRate),
		gauge("send_error_rate", stats.ErrorRate),
		gauge("send_error_ratio", stats.ErrorRatio),
		gauge("send_duration_mean_seconds", stats.MeanSendDuration),
		gauge("send_duration_min_seconds", stats.MinSendDuration),
		gauge("send_duration_max_seconds", stats.MaxSendDuration),
		gauge("send_duration_stddev_seconds", stats.StandardDeviationSendDuration),
	}
}

// Close logs the final state of the monitor. It does not invalidate the
// monitor; accumulators remain readable.
func (m *ChannelMonitor) Close() {
	if m.logger != nil {
		stats := m.Snapshot()
		m.logger.Debug("channel monitor closing",
			zap.String("channel", stats.Name),
			zap.Int64("sends", stats.SendCount),
			zap.Int64("errors", stats.SendErrorCount),
			zap.Float64("mean_duration_seconds", stats.MeanSendDuration),
			zap.Float64("send_rate", stats.SendRate))
	}
}

func (m *ChannelMonitor) String() string {
	return fmt.Sprintf("ChannelMonitor: [name=%s, sends=%d]", m.name, m.SendCount())
}
