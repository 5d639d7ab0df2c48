package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of test clocks.
var Epoch = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

// StepClock is a deterministic event.Clock for tests.
//
// Every call to Now returns the current instant and then advances it by
// the step, so consecutive events get distinct, increasing timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewStepClock creates a clock starting at start that advances by step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	start = start.UTC()
	return &StepClock{start: start, now: start, step: step}
}

// NewClock returns a StepClock at Epoch advancing one second per read.
func NewClock() *StepClock {
	return NewStepClock(Epoch, time.Second)
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the instant the next Now call will return.
func (c *StepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed, which lets tests
// simulate a skewed device clock.
func (c *StepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Reset returns the clock to its start.
//
// Used for test reuse. After Reset(), the next call to Now() returns the
// start instant again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
