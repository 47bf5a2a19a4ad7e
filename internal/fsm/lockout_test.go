package fsm

import (
	"testing"
	"time"
)

func TestLockoutGuardDisabledWhenMaxCountIsZero(t *testing.T) {
	g := newLockoutGuard(0, time.Second, time.Second)
	now := time.Now()
	for i := 0; i < 10; i++ {
		if g.onFailure(now) {
			t.Fatal("a zero maxCount should never report limit reached")
		}
		g.onLockoutEnd(now)
	}
}

func TestLockoutGuardTripsAfterConsecutiveFailures(t *testing.T) {
	g := newLockoutGuard(3, time.Second, time.Second)
	now := time.Now()

	if g.onFailure(now) {
		t.Fatal("should not trip on the first failure")
	}
	g.onLockoutEnd(now)

	now = now.Add(500 * time.Millisecond)
	if g.onFailure(now) {
		t.Fatal("should not trip on the second failure")
	}
	g.onLockoutEnd(now)

	now = now.Add(500 * time.Millisecond)
	if !g.onFailure(now) {
		t.Fatal("should trip on the third consecutive failure")
	}
}

func TestLockoutGuardResetsAfterAGapLongerThanTheWindow(t *testing.T) {
	g := newLockoutGuard(2, time.Second, time.Second)
	now := time.Now()

	g.onFailure(now)
	g.onLockoutEnd(now)

	// A gap well past lockoutTime+delay should restart the count at 1.
	now = now.Add(time.Hour)
	if g.onFailure(now) {
		t.Fatal("a failure long after the previous lockout should not trip the guard")
	}
}

func TestLockoutGuardOnSuccessResetsCount(t *testing.T) {
	g := newLockoutGuard(2, time.Second, time.Second)
	now := time.Now()

	g.onFailure(now)
	g.onLockoutEnd(now)
	g.onSuccess()

	now = now.Add(500 * time.Millisecond)
	if g.onFailure(now) {
		t.Fatal("a success should have reset the consecutive count")
	}
}
