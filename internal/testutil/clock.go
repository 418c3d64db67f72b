package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Epoch is the fixed start time used by test clocks.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall-clock for tests.
//
// Each call to Now returns the previous time plus a fixed step, so
// provenance and resolution timestamps are reproducible across runs and
// golden files stay byte-identical.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock starting at Epoch advancing one second per call.
//
// The first call to Now() returns Epoch.
func NewStepClock() *StepClock {
	return &StepClock{start: Epoch, step: time.Second}
}

// Now returns the next timestamp.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many timestamps have been handed out.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock so the next Now() returns Epoch again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}

// SequenceIDs generates predictable identifiers ("batch-0001", ...).
// It stands in for UUIDv7 batch IDs so journal contents are reproducible.
//
// Thread-safety: safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "batch".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "batch"
	}
	return &SequenceIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequenceIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
