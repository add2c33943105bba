package chanmon

import "sync/atomic"

// Counters holds the plain monotonic tallies for a monitored channel: total
// send attempts and failed attempts. Increments are single atomic operations,
// safe under any number of concurrent writers; errors never exceeds total
// because an error increment is always preceded by a total increment.
type Counters struct {
	total  atomic.Int64
	errors atomic.Int64
}

// IncTotal counts one send attempt.
func (c *Counters) IncTotal() {
	c.total.Add(1)
}

// IncError counts one failed send attempt.
func (c *Counters) IncError() {
	c.errors.Add(1)
}

// Total returns the number of send attempts so far.
func (c *Counters) Total() int64 {
	return c.total.Load()
}

// Errors returns the number of failed send attempts so far.
func (c *Counters) Errors() int64 {
	return c.errors.Load()
}
