// Package testutil provides deterministic stand-ins for the runtime's
// external capabilities: the scheduler that drains events, the timer behind
// dispatch-later, the wall clock, and id and sequence sources.
package testutil

import "sync"

// DeterministicClock is a resettable logical sequence for tests. It
// satisfies the journal's sequence source, so the same scenario produces
// the same journal seq values on every run.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock at 0. The first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the sequence.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the sequence without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset sets the sequence back to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// ConstGenerator returns the same id on every call. Used where every record
// of a run should share one id, such as a journal session.
type ConstGenerator string

// Generate returns the id, or "test-session" when empty.
func (g ConstGenerator) Generate() string {
	if g == "" {
		return "test-session"
	}
	return string(g)
}
