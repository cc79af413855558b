// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// AfterFunc waits for the duration to elapse and then calls f.
	// The returned Timer can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single pending callback.
type Timer interface {
	// Stop prevents the Timer from firing. It reports whether the call
	// stopped the timer.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// AfterFunc calls f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a manually controlled clock for testing. Callbacks registered
// with AfterFunc run synchronously inside Advance, in deadline order.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*MockTimer
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc registers f to run once the clock has been advanced by d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &MockTimer{
		clock:    c,
		deadline: c.now.Add(d),
		seq:      c.seq,
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the mock clock forward by d, firing every timer whose
// deadline falls within the window. Timers registered by a firing callback
// fire in the same call if they are also due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *MockClock) popDueLocked(target time.Time) *MockTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	first := c.timers[0]
	if first.deadline.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	return first
}

func (c *MockClock) remove(t *MockTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// MockTimer is a callback registered on a MockClock.
type MockTimer struct {
	clock    *MockClock
	deadline time.Time
	seq      int
	f        func()
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	return t.clock.remove(t)
}
