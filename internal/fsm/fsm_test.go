package fsm

import (
	"image"
	"os"
	"strings"
	"testing"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"

	"github.com/catcierge/catcierge/internal/event"
	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/gpioctl"
	"github.com/catcierge/catcierge/internal/matcher"
)

// fakeMatcher is a matcher.Matcher double: IsObstructed and each Match call
// return caller-queued canned answers, so FSM tests drive state transitions
// without any real image processing.
type fakeMatcher struct {
	obstructed    bool
	obstructedErr error
	results       []matcher.Result
	matchErr      error
	decide        func(matcher.GroupView) bool
}

func (f *fakeMatcher) Match(fr *frame.Frame, saveSteps bool) (*matcher.Result, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	if len(f.results) == 0 {
		return &matcher.Result{}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return &r, nil
}

func (f *fakeMatcher) Decide(g matcher.GroupView) bool {
	if f.decide != nil {
		return f.decide(g)
	}
	return g.Success()
}

func (f *fakeMatcher) IsObstructed(fr *frame.Frame) (bool, error) {
	return f.obstructed, f.obstructedErr
}

func (f *fakeMatcher) Translate(name string) (string, bool) { return "", false }

func acquireFrame(t *testing.T) *frame.Frame {
	t.Helper()
	src := frame.NewFake(image.Rectangle{})
	src.EnqueueBlank(8, 8, 128)
	fr, err := src.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fr.Close() })
	return fr
}

func newTestMachine(t *testing.T, cfg Config, mm *fakeMatcher) (*Machine, *gpiotest.Pin) {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	pin := &gpiotest.Pin{N: "lock"}
	lock := gpioctl.NewLock(pin, false)
	engine := event.NewEngine(event.NewContext(nil), nil, nil)
	m := New(cfg, "fake", mm, lock, engine, event.Paths{})
	return m, pin
}

func TestStepWaitingStaysWaitingWhenNotObstructed(t *testing.T) {
	mm := &fakeMatcher{obstructed: false}
	m, _ := newTestMachine(t, DefaultConfig(), mm)
	fr := acquireFrame(t)

	if err := m.Step(fr, time.Now()); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Errorf("got %v, want waiting", m.State())
	}
}

func TestStepWaitingTransitionsToMatchingWhenObstructed(t *testing.T) {
	mm := &fakeMatcher{obstructed: true}
	m, _ := newTestMachine(t, DefaultConfig(), mm)
	fr := acquireFrame(t)

	if err := m.Step(fr, time.Now()); err != nil {
		t.Fatal(err)
	}
	if m.State() != Matching {
		t.Errorf("got %v, want matching", m.State())
	}
}

func TestStepMatchingSuccessUnlocksAndEntersKeepOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchMaxCount = 1
	cfg.OkMatchesNeeded = 1
	mm := &fakeMatcher{
		obstructed: true,
		results:    []matcher.Result{{Score: 0.9, Success: true, Direction: matcher.DirectionIn}},
	}
	m, pin := newTestMachine(t, cfg, mm)
	now := time.Now()

	fr := acquireFrame(t)
	if err := m.Step(fr, now); err != nil { // waiting -> matching
		t.Fatal(err)
	}
	fr2 := acquireFrame(t)
	if err := m.Step(fr2, now); err != nil { // matching -> decide -> keep_open
		t.Fatal(err)
	}

	if m.State() != KeepOpen {
		t.Fatalf("got %v, want keep_open", m.State())
	}
	if pin.L != gpio.Low {
		t.Errorf("expected the lock pin to have been driven low (unlocked)")
	}
}

func TestFlushGroupWritesNothingWhenSaveFlagsAreUnset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchMaxCount = 1
	cfg.OkMatchesNeeded = 1
	mm := &fakeMatcher{
		obstructed: true,
		results:    []matcher.Result{{Score: 0.9, Success: true, Direction: matcher.DirectionIn}},
	}
	m, _ := newTestMachine(t, cfg, mm)
	now := time.Now()

	fr := acquireFrame(t)
	if err := m.Step(fr, now); err != nil { // waiting -> matching
		t.Fatal(err)
	}
	fr2 := acquireFrame(t)
	if err := m.Step(fr2, now); err != nil { // matching -> decide -> keep_open, flushes the group
		t.Fatal(err)
	}

	entries, err := os.ReadDir(m.cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d files in OutputDir, want none since Save/SaveObstruct are unset: %v", len(entries), entries)
	}
}

func TestFlushGroupWritesMatchAndObstructImagesWhenSaveFlagsAreSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchMaxCount = 1
	cfg.OkMatchesNeeded = 1
	cfg.Save = true
	cfg.SaveObstruct = true
	mm := &fakeMatcher{
		obstructed: true,
		results:    []matcher.Result{{Score: 0.9, Success: true, Direction: matcher.DirectionIn}},
	}
	m, _ := newTestMachine(t, cfg, mm)
	now := time.Now()

	fr := acquireFrame(t)
	if err := m.Step(fr, now); err != nil { // waiting -> matching
		t.Fatal(err)
	}
	fr2 := acquireFrame(t)
	if err := m.Step(fr2, now); err != nil { // matching -> decide -> keep_open, flushes the group
		t.Fatal(err)
	}

	entries, err := os.ReadDir(m.cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	var sawObstruct, sawMatch bool
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "match_obstruct_"):
			sawObstruct = true
		case strings.HasPrefix(e.Name(), "match_success_"):
			sawMatch = true
		}
	}
	if !sawObstruct {
		t.Errorf("got %v, want a match_obstruct_*.png file since SaveObstruct is set", entries)
	}
	if !sawMatch {
		t.Errorf("got %v, want a match_success_*.png file since Save is set", entries)
	}
}

func TestStepMatchingFailureLocksAndEntersLockout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchMaxCount = 1
	cfg.OkMatchesNeeded = 2
	mm := &fakeMatcher{
		obstructed: true,
		results:    []matcher.Result{{Score: 0.1, Success: false, Direction: matcher.DirectionUnknown}},
	}
	m, pin := newTestMachine(t, cfg, mm)
	now := time.Now()

	fr := acquireFrame(t)
	if err := m.Step(fr, now); err != nil {
		t.Fatal(err)
	}
	fr2 := acquireFrame(t)
	if err := m.Step(fr2, now); err != nil {
		t.Fatal(err)
	}

	if m.State() != Lockout {
		t.Fatalf("got %v, want lockout", m.State())
	}
	if pin.L != gpio.High {
		t.Errorf("expected the lock pin to have been driven high (locked)")
	}
}

func TestStepKeepOpenReturnsToWaitingAfterRematchTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchTime = 5 * time.Second
	mm := &fakeMatcher{obstructed: false}
	m, _ := newTestMachine(t, cfg, mm)

	now := time.Now()
	m.state = KeepOpen
	m.rematchTimer.Start(now)

	fr := acquireFrame(t)
	if err := m.Step(fr, now.Add(1*time.Second)); err != nil {
		t.Fatal(err)
	}
	if m.State() != KeepOpen {
		t.Fatalf("got %v, want still keep_open before the timeout elapses", m.State())
	}

	fr2 := acquireFrame(t)
	if err := m.Step(fr2, now.Add(6*time.Second)); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Fatalf("got %v, want waiting after the rematch timeout elapses", m.State())
	}
}

func TestStepLockoutLeavesAfterTimerOnlyTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockoutTime = 5 * time.Second
	cfg.LockoutMethod = LockoutTimerOnly
	mm := &fakeMatcher{obstructed: true} // still obstructed: timer-only ignores it
	m, _ := newTestMachine(t, cfg, mm)

	now := time.Now()
	m.state = Lockout
	m.lockoutTimer.Start(now)

	fr := acquireFrame(t)
	if err := m.Step(fr, now.Add(6*time.Second)); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Fatalf("got %v, want waiting once the lockout timer elapses", m.State())
	}
}

func TestStepLockoutObstructedOrTimeLeavesAssoonAsClear(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockoutTime = time.Hour
	cfg.LockoutMethod = LockoutObstructedOrTime
	mm := &fakeMatcher{obstructed: false}
	m, _ := newTestMachine(t, cfg, mm)

	now := time.Now()
	m.state = Lockout
	m.lockoutTimer.Start(now)

	fr := acquireFrame(t)
	if err := m.Step(fr, now.Add(1*time.Second)); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Fatalf("got %v, want waiting once the obstruction clears, regardless of the timer", m.State())
	}
}

func TestForceUnlockResetsTimersAndReturnsToWaiting(t *testing.T) {
	mm := &fakeMatcher{}
	m, pin := newTestMachine(t, DefaultConfig(), mm)
	now := time.Now()
	m.state = Lockout
	m.lockoutTimer.Start(now)
	m.rematchTimer.Start(now)

	if err := m.ForceUnlock(now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Errorf("got %v, want waiting", m.State())
	}
	if pin.L != gpio.Low {
		t.Error("expected ForceUnlock to drive the lock pin low")
	}
	if m.lockoutTimer.Running() || m.rematchTimer.Running() {
		t.Error("ForceUnlock should reset both timers")
	}
}

func TestForceLockoutLocksAndEntersLockout(t *testing.T) {
	mm := &fakeMatcher{}
	m, pin := newTestMachine(t, DefaultConfig(), mm)

	if err := m.ForceLockout(time.Now()); err != nil {
		t.Fatal(err)
	}
	if m.State() != Lockout {
		t.Errorf("got %v, want lockout", m.State())
	}
	if pin.L != gpio.High {
		t.Error("expected ForceLockout to drive the lock pin high")
	}
}

func TestSetIgnoringTogglesBetweenIgnoringAndWaiting(t *testing.T) {
	mm := &fakeMatcher{}
	m, _ := newTestMachine(t, DefaultConfig(), mm)
	now := time.Now()

	if err := m.SetIgnoring(true, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Ignoring {
		t.Fatalf("got %v, want ignoring", m.State())
	}
	if err := m.SetIgnoring(false, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Fatalf("got %v, want waiting", m.State())
	}
}

func TestStepIgnoringStateIsANoOp(t *testing.T) {
	mm := &fakeMatcher{obstructed: true}
	m, _ := newTestMachine(t, DefaultConfig(), mm)
	m.state = Ignoring

	fr := acquireFrame(t)
	if err := m.Step(fr, time.Now()); err != nil {
		t.Fatal(err)
	}
	if m.State() != Ignoring {
		t.Errorf("got %v, want ignoring to be left untouched by Step", m.State())
	}
}

func TestRequestStopSecondCallForcesImmediateUnlock(t *testing.T) {
	mm := &fakeMatcher{}
	m, pin := newTestMachine(t, DefaultConfig(), mm)
	now := time.Now()
	m.state = Lockout

	if err := m.RequestStop(now); err != nil {
		t.Fatal(err)
	}
	if !m.StopRequested() {
		t.Fatal("expected the first RequestStop to set the stop flag")
	}
	if m.State() != Lockout {
		t.Errorf("the first RequestStop should not itself change state, got %v", m.State())
	}

	if err := m.RequestStop(now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Errorf("the second RequestStop should force an unlock back to waiting, got %v", m.State())
	}
	if pin.L != gpio.Low {
		t.Error("expected the second RequestStop to drive the lock pin low")
	}
}

func TestApplySigusrDispatchesToTheMatchingHandler(t *testing.T) {
	mm := &fakeMatcher{}
	m, _ := newTestMachine(t, DefaultConfig(), mm)
	now := time.Now()

	if err := m.ApplySigusr(SigusrLock, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Lockout {
		t.Fatalf("got %v, want lockout after sigusr lock", m.State())
	}

	if err := m.ApplySigusr(SigusrUnlock, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Waiting {
		t.Fatalf("got %v, want waiting after sigusr unlock", m.State())
	}

	if err := m.ApplySigusr(SigusrIgnore, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Ignoring {
		t.Fatalf("got %v, want ignoring after sigusr ignore", m.State())
	}

	if err := m.ApplySigusr("bogus", now); err == nil {
		t.Error("expected an unknown sigusr mode to error")
	}
}
