package chanmon

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWindow is the effective sample window for the moving averages.
const DefaultWindow = 10

// ewma is the shared exponentially weighted accumulator behind the history
// types. It keeps a decayed mean and variance over a value stream with no
// raw sample retention.
//
// The smoothing weight starts at 1/count while the accumulator is cold, so
// the first few readings behave like a plain running mean, and settles at
// alpha = 2/(window+1) once count exceeds the window. Callers provide their
// own locking.
type ewma struct {
	alpha    float64
	count    int64
	mean     float64
	variance float64
}

func newEWMA(window int) ewma {
	if window <= 0 {
		window = DefaultWindow
	}
	return ewma{alpha: 2 / (float64(window) + 1)}
}

func (e *ewma) append(value float64) {
	e.count++
	w := e.alpha
	if cold := 1 / float64(e.count); cold > w {
		w = cold
	}
	diff := value - e.mean
	incr := w * diff
	e.mean += incr
	// Second-moment recurrence; clamp against floating-point drift.
	e.variance = (1 - w) * (e.variance + diff*incr)
	if e.variance < 0 {
		e.variance = 0
	}
}

func (e *ewma) stddev() float64 {
	return math.Sqrt(e.variance)
}

// DurationHistory accumulates an exponentially weighted mean and standard
// deviation over observed durations, together with cumulative min and max.
// Min and max are never decayed and never reset.
type DurationHistory struct {
	mu sync.RWMutex
	ewma
	min float64
	max float64
}

// NewDurationHistory creates a duration accumulator over the given window.
func NewDurationHistory(window int) *DurationHistory {
	return &DurationHistory{
		ewma: newEWMA(window),
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

// Append records one observed duration in seconds.
func (h *DurationHistory) Append(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.append(seconds)
	if seconds < h.min {
		h.min = seconds
	}
	if seconds > h.max {
		h.max = seconds
	}
}

// Mean returns the decayed mean duration in seconds.
func (h *DurationHistory) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mean
}

// Min returns the smallest duration seen so far, or 0 before any sample.
func (h *DurationHistory) Min() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the largest duration seen so far, or 0 before any sample.
func (h *DurationHistory) Max() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.max
}

// StandardDeviation returns the decayed standard deviation in seconds.
func (h *DurationHistory) StandardDeviation() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stddev()
}

// Count returns the number of appended samples.
func (h *DurationHistory) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// RateHistory estimates events per period from a stream of event timestamps.
//
// Each event contributes the instantaneous rate period/gap, where gap is the
// time since the previous event, into the exponentially weighted mean. Two
// events on the same clock tick have no defined instantaneous rate; such an
// event advances the count and the last-event time but skips the smoothing
// update. The gap for the very first event is measured from construction
// time, falling back to one period if construction happened on the same tick.
//
// Reads apply a live staleness decay on top of the smoothed mean: the longer
// the accumulator sits idle, the closer the reported rate falls toward zero,
// even with no new events. The decay is a pure function of stored state and
// the current time; reads never mutate.
type RateHistory struct {
	mu sync.RWMutex
	ewma
	clk       clock.Clock
	period    float64 // seconds per reported rate unit
	averaging float64 // staleness time constant cap, seconds
	last      time.Time
}

// NewRateHistory creates a rate accumulator reporting events per period.
// averaging bounds how long a warm estimate survives without new events.
func NewRateHistory(period, averaging time.Duration, window int) *RateHistory {
	return newRateHistory(period, averaging, window, clock.New())
}

func newRateHistory(period, averaging time.Duration, window int, clk clock.Clock) *RateHistory {
	r := &RateHistory{
		ewma:      newEWMA(window),
		clk:       clk,
		period:    period.Seconds(),
		averaging: averaging.Seconds(),
	}
	if r.period <= 0 {
		r.period = 1
	}
	if r.averaging < r.period {
		r.averaging = r.period
	}
	r.last = clk.Now()
	return r
}

// Increment records one event occurrence at the current time.
func (r *RateHistory) Increment() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	gap := now.Sub(r.last).Seconds()
	if gap <= 0 {
		if r.count > 0 {
			// Undefined instantaneous rate; keep the sample counted.
			r.count++
			r.last = now
			return
		}
		gap = r.period
	}
	r.append(r.period / gap)
	r.last = now
}

// Mean returns the current rate estimate in events per period.
//
// The smoothed mean is scaled by T/(T+idle), where idle is the time since the
// last event and T is the wall-clock span the sample window represents
// (count times the implied mean gap), capped at the averaging period. At
// idle zero this is the smoothed mean itself; as idle grows the estimate
// decays monotonically toward zero.
func (r *RateHistory) Mean() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 || r.mean <= 0 {
		return 0
	}
	idle := r.clk.Now().Sub(r.last).Seconds()
	if idle < 0 {
		idle = 0
	}
	span := float64(r.count) * r.period / r.mean
	if span > r.averaging {
		span = r.averaging
	}
	return r.mean * span / (span + idle)
}

// StandardDeviation returns the decayed standard deviation of the
// instantaneous rates. No staleness decay is applied.
func (r *RateHistory) StandardDeviation() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stddev()
}

// Count returns the number of recorded events.
func (r *RateHistory) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// TimeSinceLastEvent returns the elapsed time since the most recent event,
// or 0 before any event.
func (r *RateHistory) TimeSinceLastEvent() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return 0
	}
	d := r.clk.Now().Sub(r.last)
	if d < 0 {
		d = 0
	}
	return d
}

// RatioHistory accumulates an exponentially weighted success proportion over
// a binary outcome stream. The mean stays in [0, 1] by construction and does
// not go stale: absence of outcomes leaves the last estimate in place.
type RatioHistory struct {
	mu sync.RWMutex
	ewma
}

// NewRatioHistory creates a ratio accumulator over the given window.
func NewRatioHistory(window int) *RatioHistory {
	return &RatioHistory{ewma: newEWMA(window)}
}

// Success records a successful outcome.
func (h *RatioHistory) Success() {
	h.mu.Lock()
	h.append(1)
	h.mu.Unlock()
}

// Failure records a failed outcome.
func (h *RatioHistory) Failure() {
	h.mu.Lock()
	h.append(0)
	h.mu.Unlock()
}

// Mean returns the decayed success proportion, or 0 before any outcome.
func (h *RatioHistory) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mean
}

// Count returns the number of recorded outcomes.
func (h *RatioHistory) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
