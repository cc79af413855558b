package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	clock := RealClock{}
	done := make(chan struct{})
	timer := clock.AfterFunc(10*time.Millisecond, func() { close(done) })
	defer timer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("AfterFunc callback did not run")
	}
}

func TestMockClock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	var fired []string
	clock.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clock.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	clock.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if got := clock.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}

	clock.Advance(time.Second)
	if len(fired) != 3 || fired[2] != "c" {
		t.Errorf("fired = %v, want [a b c]", fired)
	}
	if got := clock.Since(start); got != 3*time.Second {
		t.Errorf("Since(start) = %v, want 3s", got)
	}
}

func TestMockClock_NowDuringCallbackIsDeadline(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	var seen time.Time
	clock.AfterFunc(500*time.Millisecond, func() { seen = clock.Now() })
	clock.Advance(5 * time.Second)

	if want := start.Add(500 * time.Millisecond); !seen.Equal(want) {
		t.Errorf("Now() inside callback = %v, want %v", seen, want)
	}
}

func TestMockClock_Stop(t *testing.T) {
	clock := NewMockClock(time.Time{})
	called := false
	timer := clock.AfterFunc(time.Second, func() { called = true })

	if !timer.Stop() {
		t.Error("Stop() = false for a pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}
	clock.Advance(2 * time.Second)
	if called {
		t.Error("stopped timer fired")
	}
}

func TestMockClock_RearmFromCallback(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		clock.AfterFunc(300*time.Millisecond, tick)
	}
	clock.AfterFunc(300*time.Millisecond, tick)

	clock.Advance(time.Second)
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
}
