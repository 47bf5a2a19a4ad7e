package matcher

import "testing"

func TestDirectionString(t *testing.T) {
	cases := map[Direction]string{
		DirectionUnknown: "unknown",
		DirectionIn:      "in",
		DirectionOut:     "out",
		Direction(99):    "unknown",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("Direction(%d).String() = %q, want %q", d, got, want)
		}
	}
}

func TestMajorityDirectionPicksTheMostCommon(t *testing.T) {
	got := MajorityDirection([]Direction{DirectionIn, DirectionIn, DirectionOut})
	if got != DirectionIn {
		t.Errorf("got %v, want in", got)
	}
}

func TestMajorityDirectionTieBreaksToUnknownThenInThenOut(t *testing.T) {
	// All three tied at zero counts: unknown wins.
	if got := MajorityDirection(nil); got != DirectionUnknown {
		t.Errorf("got %v, want unknown for no votes", got)
	}
	// in and out tied: in wins per the documented tie-break order.
	got := MajorityDirection([]Direction{DirectionIn, DirectionOut})
	if got != DirectionIn {
		t.Errorf("got %v, want in on an in/out tie", got)
	}
}

func TestMajorityDirectionUnknownDoesNotOutvoteAMajority(t *testing.T) {
	dirs := []Direction{DirectionUnknown, DirectionUnknown, DirectionOut, DirectionOut, DirectionOut}
	if got := MajorityDirection(dirs); got != DirectionOut {
		t.Errorf("got %v, want out", got)
	}
}

func TestMatcherErrorUnwrap(t *testing.T) {
	inner := errBoom
	err := &Error{Op: "match", Err: inner}
	if err.Unwrap() != inner {
		t.Error("Unwrap should return the wrapped error")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("boom")
