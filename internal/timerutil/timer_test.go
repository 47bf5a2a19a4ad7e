package timerutil

import (
	"testing"
	"time"
)

func TestTimerNeverStartedDoesNotTimeOut(t *testing.T) {
	tm := New(time.Second)
	now := time.Now()
	if tm.HasTimedOut(now) {
		t.Error("a timer that was never started should never time out")
	}
	if tm.Running() {
		t.Error("a new timer should not be running")
	}
}

func TestTimerHasTimedOut(t *testing.T) {
	tm := New(10 * time.Second)
	start := time.Now()
	tm.Start(start)

	if tm.HasTimedOut(start.Add(5 * time.Second)) {
		t.Error("should not have timed out after 5s with a 10s timeout")
	}
	if !tm.HasTimedOut(start.Add(10 * time.Second)) {
		t.Error("should time out exactly at the timeout")
	}
	if !tm.HasTimedOut(start.Add(20 * time.Second)) {
		t.Error("should remain timed out past the timeout")
	}
}

func TestTimerZeroTimeoutTimesOutImmediately(t *testing.T) {
	tm := New(0)
	start := time.Now()
	tm.Start(start)
	if !tm.HasTimedOut(start) {
		t.Error("a zero-timeout timer should be timed out as soon as it starts")
	}
}

func TestTimerStartIsIdempotentWhileRunning(t *testing.T) {
	tm := New(time.Second)
	start := time.Now()
	tm.Start(start)
	tm.Start(start.Add(time.Hour)) // should be a no-op: already running

	if !tm.Running() {
		t.Fatal("expected the timer to still be running")
	}
	if got := tm.Elapsed(start.Add(time.Second)); got != time.Second {
		t.Errorf("got elapsed %v, want 1s (second Start call should not have reset it)", got)
	}
}

func TestTimerStopFreezesElapsed(t *testing.T) {
	tm := New(time.Minute)
	start := time.Now()
	tm.Start(start)
	tm.Stop(start.Add(3 * time.Second))

	if tm.Running() {
		t.Error("expected Running to be false after Stop")
	}
	if got := tm.Elapsed(start.Add(time.Hour)); got != 3*time.Second {
		t.Errorf("got elapsed %v after stop, want frozen at 3s", got)
	}
}

func TestTimerResetClearsState(t *testing.T) {
	tm := New(time.Second)
	start := time.Now()
	tm.Start(start)
	tm.Reset()

	if tm.Running() {
		t.Error("expected Running to be false after Reset")
	}
	if tm.HasTimedOut(start.Add(time.Hour)) {
		t.Error("a reset timer should never time out until started again")
	}
}

func TestTimerGetMatchesElapsedSeconds(t *testing.T) {
	tm := New(time.Second)
	start := time.Now()
	tm.Start(start)
	if got := tm.Get(start.Add(2500 * time.Millisecond)); got != 2.5 {
		t.Errorf("got %v, want 2.5", got)
	}
}

func TestTimerSetTimeoutChangesThreshold(t *testing.T) {
	tm := New(time.Second)
	start := time.Now()
	tm.Start(start)
	tm.SetTimeout(5 * time.Second)
	if tm.HasTimedOut(start.Add(2 * time.Second)) {
		t.Error("should respect the updated timeout")
	}
	if !tm.HasTimedOut(start.Add(5 * time.Second)) {
		t.Error("should time out once the updated timeout elapses")
	}
}
