package fsm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/catcierge/catcierge/internal/event"
	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/gpioctl"
	"github.com/catcierge/catcierge/internal/matcher"
	"github.com/catcierge/catcierge/internal/rfid"
	"github.com/catcierge/catcierge/internal/timerutil"
)

// State is one of the match-group FSM's states.
type State int

// Valid State values.
const (
	Waiting State = iota
	Matching
	KeepOpen
	Lockout
	Ignoring
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Matching:
		return "matching"
	case KeepOpen:
		return "keep_open"
	case Lockout:
		return "lockout"
	case Ignoring:
		return "ignoring"
	default:
		return "unknown"
	}
}

// LockoutMethod selects how the lockout state decides when to leave.
type LockoutMethod int

// Valid LockoutMethod values.
const (
	LockoutTimerOnly LockoutMethod = 1
	LockoutObstructedThenTime LockoutMethod = 2
	LockoutObstructedOrTime LockoutMethod = 3
)

// SigusrMode is one of the behaviours the "sigusr" table maps a string to.
type SigusrMode string

// Valid SigusrMode values.
const (
	SigusrNone SigusrMode = "none"
	SigusrLock SigusrMode = "lock"
	SigusrUnlock SigusrMode = "unlock"
	SigusrIgnore SigusrMode = "ignore"
	SigusrAttention SigusrMode = "attention"
)

// Config bundles the FSM's tunables.
type Config struct {
	MatchMaxCount int
	OkMatchesNeeded int
	NoFinalDecision bool
	MatchTime time.Duration
	LockoutTime time.Duration
	LockoutMethod LockoutMethod
	MaxConsecutiveLockoutCount int
	ConsecutiveLockoutDelay time.Duration
	RfidLockTime time.Duration
	OutputDir string

	Save bool // write match images to disk
	SaveObstruct bool // write the obstruct image to disk
	SaveSteps bool // write each match's intermediate step images to disk
}

// DefaultConfig returns catcierge's documented defaults.
func DefaultConfig() Config {
	return Config{
		MatchMaxCount: DefaultMatchMaxCount,
		OkMatchesNeeded: 2,
		MatchTime: 0,
		LockoutTime: 30 * time.Second,
		LockoutMethod: LockoutTimerOnly,
		ConsecutiveLockoutDelay: 3 * time.Second,
		RfidLockTime: 5 * time.Second,
	}
}

// Machine is the match-group FSM.
type Machine struct {
	cfg Config

	state State
	prevState State
	stop bool

	group *MatchGroup
	matcher matcher.Matcher
	matcherName string

	lock *gpioctl.Lock
	engine *event.Engine
	rfidPair *rfid.Pair

	rematchTimer timerutil.Timer
	lockoutTimer timerutil.Timer
	rfidCheckAt time.Time

	guard *lockoutGuard
	paths event.Paths
}

// New returns a Machine in the waiting state. Backlight control is owned
// by the lifecycle package, not the FSM: lifecycle.Startup only turns it
// on once at startup, and no FSM transition turns it back off.
func New(cfg Config, matcherName string, m matcher.Matcher, lock *gpioctl.Lock, engine *event.Engine, paths event.Paths) *Machine {
	if cfg.MatchMaxCount <= 0 {
		cfg.MatchMaxCount = DefaultMatchMaxCount
	}
	return &Machine{
		cfg: cfg,
		state: Waiting,
		prevState: Waiting,
		group: NewMatchGroup(cfg.MatchMaxCount),
		matcher: m,
		matcherName: matcherName,
		lock: lock,
		engine: engine,
		rematchTimer: timerutil.New(cfg.MatchTime),
		lockoutTimer: timerutil.New(cfg.LockoutTime),
		guard: newLockoutGuard(cfg.MaxConsecutiveLockoutCount, cfg.LockoutTime, cfg.ConsecutiveLockoutDelay),
		paths: paths,
	}
}

// SetRFID attaches the optional RFID reader pair. Called once at startup
// when both --rfid_in and --rfid_out are configured.
func (m *Machine) SetRFID(p *rfid.Pair) { m.rfidPair = p }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// StopRequested reports whether the FSM has asked the main loop to exit,
// either from a hardware-failure lockout streak or a forced shutdown.
func (m *Machine) StopRequested() bool { return m.stop }

// Step feeds one frame through whichever state handler is active. now lets
// callers apply --base_time's fixed offset deterministically; callers
// normally pass time.Now().
func (m *Machine) Step(fr *frame.Frame, now time.Time) error {
	if m.rfidPair != nil {
		if err := m.rfidPair.Poll(); err != nil {
			slog.Warn("rfid poll failed", "err", err)
		}
	}

	switch m.state {
	case Waiting:
		return m.stepWaiting(fr, now)
	case Matching:
		return m.stepMatching(fr, now)
	case KeepOpen:
		return m.stepKeepOpen(fr, now)
	case Lockout:
		return m.stepLockout(fr, now)
	case Ignoring:
		return nil
	default:
		return fmt.Errorf("fsm: unknown state %v", m.state)
	}
}

func (m *Machine) stepWaiting(fr *frame.Frame, now time.Time) error {
	obstructed, err := m.matcher.IsObstructed(fr)
	if err != nil {
		return fmt.Errorf("fsm: checking obstruction: %w", err)
	}
	if !obstructed {
		return nil
	}
	m.group.Begin(fr.Clone(), m.cfg.OutputDir, now)
	if err := m.trigger(event.FrameObstructed); err != nil {
		slog.Error("frame_obstructed template render failed", "err", err)
	}
	if m.rfidPair != nil {
		m.rfidPair.Reset()
		m.rfidCheckAt = now.Add(m.cfg.RfidLockTime)
	}
	return m.transition(Matching, now)
}

func (m *Machine) stepMatching(fr *frame.Frame, now time.Time) error {
	result, err := m.matcher.Match(fr, m.cfg.SaveSteps)
	if err != nil {
		return fmt.Errorf("fsm: matching frame: %w", err)
	}
	if result.Score >= 0 {
		m.group.AddMatch(fr.Clone(), *result, m.cfg.OutputDir, now)
		if err := m.trigger(event.MatchDone); err != nil {
			slog.Error("match_done template render failed", "err", err)
		}
	}

	if !m.group.Full() {
		return nil
	}
	return m.finishGroup(now)
}

func (m *Machine) finishGroup(now time.Time) error {
	g := m.group
	var successCount int
	dirs := make([]matcher.Direction, 0, g.MatchCount())
	for i := 0; i < g.MatchCount(); i++ {
		r := g.MatchResult(i)
		if r.Success {
			successCount++
		}
		dirs = append(dirs, r.Direction)
	}
	g.SuccessCount = successCount

	dir := defaultGroupDirection(dirs)
	if voter, ok := m.matcher.(matcher.DirectionVoter); ok {
		dir = voter.GroupDirection(dirs)
	}
	g.SetDirection(dir)

	success := dir == matcher.DirectionOut || successCount >= m.cfg.OkMatchesNeeded
	g.SetSuccess(success)

	if !m.cfg.NoFinalDecision {
		success = m.matcher.Decide(g)
	}
	g.EndTime = now

	if success {
		return m.onGroupSuccess(now)
	}
	return m.onGroupFailure(now)
}

// defaultGroupDirection is the template matcher's rule: any per-frame direction that isn't unknown wins.
func defaultGroupDirection(dirs []matcher.Direction) matcher.Direction {
	for _, d := range dirs {
		if d != matcher.DirectionUnknown {
			return d
		}
	}
	return matcher.DirectionUnknown
}

func (m *Machine) onGroupSuccess(now time.Time) error {
	if err := m.unlock(); err != nil {
		return err
	}
	m.guard.onSuccess()
	m.rematchTimer.Reset()
	m.rematchTimer.Start(now)

	if err := m.flushGroup(now); err != nil {
		slog.Error("flushing match group", "err", err)
	}
	return m.transition(KeepOpen, now)
}

func (m *Machine) onGroupFailure(now time.Time) error {
	limitReached := m.guard.onFailure(now)
	if err := m.flushGroup(now); err != nil {
		slog.Error("flushing match group", "err", err)
	}
	if limitReached {
		slog.Error("consecutive lockout limit reached, assuming hardware failure", "count", m.guard.count)
		_ = m.unlock()
		m.stop = true
		return nil
	}
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("fsm: locking: %w", err)
	}
	if err := m.trigger(event.DoLockout); err != nil {
		slog.Error("do_lockout template render failed", "err", err)
	}
	m.lockoutTimer.Reset()
	m.lockoutTimer.Start(now)
	return m.transition(Lockout, now)
}

// flushGroup renders match_group_done and writes every pending match/step
// image to disk, following a "fast matching, slow flushing" rule.
func (m *Machine) flushGroup(now time.Time) error {
	if err := m.trigger(event.MatchGroupDone); err != nil {
		return err
	}
	g := m.group
	if m.cfg.SaveObstruct && g.ObstructImage != nil {
		if err := writeFramePNG(g.ObstructImage, g.ObstructPath.Full); err != nil {
			slog.Error("writing obstruct image", "path", g.ObstructPath.Full, "err", err)
		}
	}
	for i := range g.Matches {
		ms := &g.Matches[i]
		if m.cfg.Save && ms.Image != nil {
			if err := writeFramePNG(ms.Image, ms.Path.Full); err != nil {
				slog.Error("writing match image", "path", ms.Path.Full, "err", err)
			}
		}
		if m.cfg.SaveSteps {
			m.writeSteps(ms)
		}
	}
	g.Close()
	return nil
}

// writeSteps flushes every intermediate image a matcher recorded for one
// match slot, named after the match's own file and the step's position and
// name.
func (m *Machine) writeSteps(ms *MatchState) {
	for n := range ms.Result.Steps {
		step := &ms.Result.Steps[n]
		path := stepPath(ms.Path, n, step.Name)
		if err := writeStepPNG(step, path); err != nil {
			slog.Error("writing match step image", "path", path, "err", err)
		}
	}
}

func (m *Machine) stepKeepOpen(fr *frame.Frame, now time.Time) error {
	obstructed, err := m.matcher.IsObstructed(fr)
	if err != nil {
		return fmt.Errorf("fsm: checking obstruction: %w", err)
	}
	if !obstructed && !m.rematchTimer.Running() {
		m.rematchTimer.Start(now)
	}
	if obstructed {
		m.rematchTimer.Reset()
	}

	if m.rfidPair != nil && !m.rfidCheckAt.IsZero() && !now.Before(m.rfidCheckAt) {
		m.rfidCheckAt = time.Time{}
		if m.rfidPair.BothDisallowed() {
			if err := m.lock.Lock(); err != nil {
				return fmt.Errorf("fsm: locking: %w", err)
			}
			if err := m.trigger(event.DoLockout); err != nil {
				slog.Error("do_lockout template render failed", "err", err)
			}
			m.lockoutTimer.Reset()
			m.lockoutTimer.Start(now)
			return m.transition(Lockout, now)
		}
	}

	if m.rematchTimer.Running() && m.rematchTimer.HasTimedOut(now) {
		m.rematchTimer.Reset()
		return m.transition(Waiting, now)
	}
	return nil
}

func (m *Machine) stepLockout(fr *frame.Frame, now time.Time) error {
	obstructed, err := m.matcher.IsObstructed(fr)
	if err != nil {
		return fmt.Errorf("fsm: checking obstruction: %w", err)
	}

	timedOut := m.lockoutTimer.Running() && m.lockoutTimer.HasTimedOut(now)
	var leave bool
	switch m.cfg.LockoutMethod {
	case LockoutObstructedThenTime:
		if !obstructed {
			leave = timedOut
		}
	case LockoutObstructedOrTime:
		leave = !obstructed || timedOut
	default: // LockoutTimerOnly
		leave = timedOut
	}
	if !leave {
		return nil
	}

	m.lockoutTimer.Stop(now)
	m.guard.onLockoutEnd(now)
	if err := m.unlock(); err != nil {
		return err
	}
	return m.transition(Waiting, now)
}

func (m *Machine) unlock() error {
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("fsm: unlocking: %w", err)
	}
	return nil
}

func (m *Machine) transition(to State, now time.Time) error {
	m.prevState = m.state
	m.state = to
	return m.trigger(event.StateChange)
}

func (m *Machine) trigger(name event.Name) error {
	return m.engine.Trigger(name, m.snapshot())
}

// ForceUnlock implements SIGUSR1: unconditionally unlock and return to
// waiting, the cancellation design note.
func (m *Machine) ForceUnlock(now time.Time) error {
	if err := m.unlock(); err != nil {
		return err
	}
	if err := m.trigger(event.DoUnlock); err != nil {
		slog.Error("do_unlock template render failed", "err", err)
	}
	m.group.Close()
	m.rematchTimer.Reset()
	m.lockoutTimer.Reset()
	return m.transition(Waiting, now)
}

// ForceLockout implements SIGUSR2: unconditionally enter lockout.
func (m *Machine) ForceLockout(now time.Time) error {
	if err := m.lock.Lock(); err != nil {
		return err
	}
	if err := m.trigger(event.DoLockout); err != nil {
		slog.Error("do_lockout template render failed", "err", err)
	}
	m.lockoutTimer.Reset()
	m.lockoutTimer.Start(now)
	return m.transition(Lockout, now)
}

// SetIgnoring enters or leaves the ignoring state used exclusively for
// SIGUSR muting.
func (m *Machine) SetIgnoring(on bool, now time.Time) error {
	if on {
		if m.state == Ignoring {
			return nil
		}
		return m.transition(Ignoring, now)
	}
	if m.state != Ignoring {
		return nil
	}
	return m.transition(Waiting, now)
}

// RequestStop requests a graceful stop at the next Step boundary; a second
// call forces an immediate unlock, matching the documented "a second SIGINT
// forces immediate do_unlock + exit".
func (m *Machine) RequestStop(now time.Time) error {
	if m.stop {
		return m.ForceUnlock(now)
	}
	m.stop = true
	return nil
}

// ApplySigusr dispatches a sigusr behaviour-table entry to the matching
// handler.
func (m *Machine) ApplySigusr(mode SigusrMode, now time.Time) error {
	switch mode {
	case SigusrLock:
		return m.ForceLockout(now)
	case SigusrUnlock:
		return m.ForceUnlock(now)
	case SigusrIgnore:
		return m.SetIgnoring(true, now)
	case SigusrAttention:
		return m.SetIgnoring(false, now)
	case SigusrNone:
		return nil
	default:
		return fmt.Errorf("fsm: unknown sigusr mode %q", mode)
	}
}
