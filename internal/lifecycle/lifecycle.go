// Package lifecycle owns everything around the match-group FSM rather than
// in it: process-wide SIGINT/SIGUSR1/SIGUSR2 plumbing (grounded on
// lepton's github.com/maruel/interrupt usage in cmd/lepton/main.go and
// server.go), a PID file with an advisory lock, privilege drop after GPIO
// init, startup delay, and the one-shot backlight-on step.
package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/maruel/interrupt"
	"golang.org/x/sys/unix"

	"github.com/catcierge/catcierge/internal/fsm"
	"github.com/catcierge/catcierge/internal/gpioctl"
)

// SigusrTable maps the string signal name used on the CLI/config to the
// behaviour the FSM applies, defaulting unset/unknown entries to
// fsm.SigusrNone.
type SigusrTable struct {
	SIGUSR1 fsm.SigusrMode
	SIGUSR2 fsm.SigusrMode
}

// DefaultSigusrTable matches catcierge's documented default: SIGUSR1
// forces an unlock, SIGUSR2 forces a lockout.
func DefaultSigusrTable() SigusrTable {
	return SigusrTable{SIGUSR1: fsm.SigusrUnlock, SIGUSR2: fsm.SigusrLock}
}

// HandleSignals installs interrupt.HandleCtrlC for SIGINT, which closes
// interrupt.Channel for every other package that selects on it, and wires
// SIGUSR1/SIGUSR2 into machine:
// - SIGINT is not forwarded to machine: HandleSignals never calls
// fsm.Machine.RequestStop, so no SIGINT forces do_unlock; once
// interrupt.Channel closes, SIGUSR1/SIGUSR2 are no longer dispatched;
// - SIGUSR1/SIGUSR2 apply table's configured behaviour.
//
// It returns immediately; the signal handling runs in a goroutine for the
// lifetime of the process.
func HandleSignals(machine *fsm.Machine, table SigusrTable) {
	interrupt.HandleCtrlC()

	usr := make(chan os.Signal, 2)
	signal.Notify(usr, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case <-interrupt.Channel:
				return
			case sig := <-usr:
				mode := table.SIGUSR1
				name := "SIGUSR1"
				if sig == syscall.SIGUSR2 {
					mode, name = table.SIGUSR2, "SIGUSR2"
				}
				slog.Info("received signal", "signal", name, "behavior", mode)
				if err := machine.ApplySigusr(mode, time.Now()); err != nil {
					slog.Error("applying signal behavior", "signal", name, "err", err)
				}
			}
		}
	}()
}

// WritePIDFile creates path, locks it with an exclusive advisory flock so
// a second daemon instance against the same PID file fails fast instead of
// silently racing the first one, and writes the current PID. The returned
// closer releases the lock and removes the file; it must be deferred for
// the lifetime of the process.
func WritePIDFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: opening pid file %q: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lifecycle: %q is locked by another instance: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("lifecycle: writing pid file %q: %w", path, err)
	}
	return &pidFile{f: f, path: path}, nil
}

type pidFile struct {
	f *os.File
	path string
}

func (p *pidFile) Close() error {
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	err := p.f.Close()
	if rmErr := os.Remove(p.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// DropPrivileges switches the process's effective and real uid/gid to
// username's, once GPIO lines and serial ports are already open. It must
// run after gpioctl/rfid setup since those require root on most systems
// and the new uid typically won't have access.
func DropPrivileges(username string) error {
	if username == "" {
		return nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lifecycle: looking up user %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("lifecycle: parsing gid for %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("lifecycle: parsing uid for %q: %w", username, err)
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("lifecycle: setgid(%d): %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("lifecycle: setuid(%d): %w", uid, err)
	}
	slog.Info("dropped privileges", "user", username, "uid", uid, "gid", gid)
	return nil
}

// Startup runs the fixed start-up sequence once GPIO, camera,
// and matcher are constructed: wait startupDelay, then turn the backlight
// on if configured. It does not return until the delay has elapsed.
func Startup(startupDelay time.Duration, backlight *gpioctl.Backlight) error {
	if startupDelay > 0 {
		slog.Info("startup delay", "duration", startupDelay)
		select {
		case <-time.After(startupDelay):
		case <-interrupt.Channel:
			return fmt.Errorf("lifecycle: interrupted during startup delay")
		}
	}
	if backlight != nil {
		if err := backlight.On(); err != nil {
			return fmt.Errorf("lifecycle: turning on backlight: %w", err)
		}
	}
	return nil
}
