// Package gpioctl wires the lock and optional backlight outputs onto
// periph.io's gpio.PinOut abstraction, so the same code drives real
// hardware and periph's gpiotest.Pin fakes in tests.
package gpioctl

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// Lock drives the single output pin that holds the door's lock solenoid,
// the "lockout" output.
type Lock struct {
	pin gpio.PinOut
	activeLow bool
}

// NewLock wraps pin. When activeLow is true, Lock/Unlock drive the opposite
// level (some lock solenoids energize on Low).
func NewLock(pin gpio.PinOut, activeLow bool) *Lock {
	return &Lock{pin: pin, activeLow: activeLow}
}

// Lock energizes the solenoid so the door cannot open.
func (l *Lock) Lock() error {
	return l.set(true)
}

// Unlock releases the solenoid so the door can open freely.
func (l *Lock) Unlock() error {
	return l.set(false)
}

func (l *Lock) set(locked bool) error {
	level := gpio.Level(locked)
	if l.activeLow {
		level = !level
	}
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("gpioctl: driving lock pin %s: %w", l.pin, err)
	}
	return nil
}

// Backlight drives an optional output pin that lights the cat-flap tunnel
// so the camera can see at night, the "backlight" output. A nil
// Backlight is a valid no-op, matching the CLI flag's optionality.
type Backlight struct {
	pin gpio.PinOut
}

// NewBacklight wraps pin. Pass a nil pin to get a Backlight whose methods
// are no-ops, for daemons run without a backlight wired up.
func NewBacklight(pin gpio.PinOut) *Backlight {
	return &Backlight{pin: pin}
}

// On turns the backlight on.
func (b *Backlight) On() error { return b.set(true) }

// Off turns the backlight off.
func (b *Backlight) Off() error { return b.set(false) }

func (b *Backlight) set(on bool) error {
	if b.pin == nil {
		return nil
	}
	if err := b.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("gpioctl: driving backlight pin %s: %w", b.pin, err)
	}
	return nil
}
