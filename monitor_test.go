package chanmon

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestChannelMonitorEmpty(t *testing.T) {
	m := newChannelMonitor("orders", nil, clock.NewMock())

	stats := m.Snapshot()
	require.Equal(t, "orders", stats.Name)
	require.Zero(t, stats.SendCount)
	require.Zero(t, stats.SendErrorCount)
	require.Zero(t, stats.TimeSinceLastSend)
	require.Zero(t, stats.SendRate)
	require.Zero(t, stats.ErrorRate)
	require.Zero(t, stats.ErrorRatio)
	require.Zero(t, stats.MeanSendDuration)
	require.Zero(t, stats.MinSendDuration)
	require.Zero(t, stats.MaxSendDuration)
	require.Zero(t, stats.StandardDeviationSendDuration)
}

func TestChannelMonitorSuccessPath(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	for i := 0; i < 5; i++ {
		mock.Add(100 * time.Millisecond)
		err := m.Timed(func() error {
			mock.Add(10 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
	}

	require.EqualValues(t, 5, m.SendCount())
	require.Zero(t, m.SendErrorCount())
	require.InDelta(t, 0.01, m.MeanSendDuration(), 1e-9)
	require.InDelta(t, 0.01, m.MinSendDuration(), 1e-9)
	require.InDelta(t, 0.01, m.MaxSendDuration(), 1e-9)
	require.Zero(t, m.ErrorRatio())
	require.Zero(t, m.ErrorRate())
	require.Greater(t, m.SendRate(), 0.0)
}

func TestChannelMonitorFailurePath(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	sendErr := errors.New("send failed")
	for i := 0; i < 3; i++ {
		mock.Add(100 * time.Millisecond)
		err := m.Timed(func() error {
			return sendErr
		})
		// The original failure reaches the caller unchanged.
		require.ErrorIs(t, err, sendErr)
	}

	require.EqualValues(t, 3, m.SendCount())
	require.EqualValues(t, 3, m.SendErrorCount())
	require.InDelta(t, 1.0, m.ErrorRatio(), 1e-9)
	require.Greater(t, m.ErrorRate(), 0.0)

	// Failed attempts never contribute a duration.
	require.Zero(t, m.MeanSendDuration())
	require.Zero(t, m.MinSendDuration())
	require.Zero(t, m.MaxSendDuration())
}

func TestChannelMonitorNoDurationOnFailure(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	mock.Add(time.Second)
	require.NoError(t, m.Timed(func() error {
		mock.Add(10 * time.Millisecond)
		return nil
	}))

	mock.Add(time.Second)
	require.Error(t, m.Timed(func() error {
		mock.Add(5 * time.Second)
		return errors.New("boom")
	}))

	// The slow failure left the duration statistics untouched.
	require.InDelta(t, 0.01, m.MaxSendDuration(), 1e-9)
}

func TestChannelMonitorMixedOutcomeRatio(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	mock.Add(time.Second)
	m.OnStart()
	m.OnComplete(true, 10*time.Millisecond)

	mock.Add(time.Second)
	m.OnStart()
	m.OnComplete(false, 0)

	ratio := m.ErrorRatio()
	require.Greater(t, ratio, 0.0)
	require.Less(t, ratio, 1.0)
	require.EqualValues(t, 2, m.SendCount())
	require.EqualValues(t, 1, m.SendErrorCount())
}

func TestChannelMonitorTimeSinceLastSend(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	require.Zero(t, m.TimeSinceLastSend())

	mock.Add(time.Second)
	m.OnStart()
	m.OnComplete(true, time.Millisecond)
	mock.Add(50 * time.Millisecond)

	require.Equal(t, 50*time.Millisecond, m.TimeSinceLastSend())
}

func TestChannelMonitorCollect(t *testing.T) {
	mock := clock.NewMock()
	m := newChannelMonitor("orders", nil, mock)

	mock.Add(time.Second)
	m.OnStart()
	m.OnComplete(true, 10*time.Millisecond)

	metrics := m.Collect()
	require.Len(t, metrics, 10)

	byName := make(map[string]Metric, len(metrics))
	for _, metric := range metrics {
		require.Equal(t, "orders", metric.Labels["channel"])
		byName[metric.Name] = metric
	}

	require.Equal(t, 1.0, byName["send_total"].Value)
	require.Equal(t, Counter, byName["send_total"].MetricType)
	require.Zero(t, byName["send_errors_total"].Value)
	require.InDelta(t, 0.01, byName["send_duration_mean_seconds"].Value, 1e-9)
	require.Equal(t, Gauge, byName["send_rate"].MetricType)
}

func TestChannelMonitorConcurrentUse(t *testing.T) {
	m := NewChannelMonitor("orders", nil)

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if (i+j)%5 == 0 {
					_ = m.Timed(func() error { return errors.New("boom") })
				} else {
					_ = m.Timed(func() error { return nil })
				}
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, goroutines*perGoroutine, m.SendCount())
	require.EqualValues(t, goroutines*perGoroutine, m.sendRate.Count())
	require.LessOrEqual(t, m.SendErrorCount(), m.SendCount())
	require.Greater(t, m.SendErrorCount(), int64(0))

	ratio := m.ErrorRatio()
	require.GreaterOrEqual(t, ratio, 0.0)
	require.LessOrEqual(t, ratio, 1.0)
}

func TestChannelMonitorString(t *testing.T) {
	m := NewChannelMonitor("orders", nil)
	m.OnStart()
	m.OnComplete(true, time.Millisecond)

	require.Equal(t, "ChannelMonitor: [name=orders, sends=1]", m.String())
}
