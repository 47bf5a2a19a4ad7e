package matcher

import (
	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/obstruct"
)

// GroupView is the read/write slice of a match group that a Matcher's
// Decide needs: the per-frame tally plus the fields Decide is allowed to
// override. It exists so this package never has to import the FSM package
// that owns the concrete match group, avoiding a dependency cycle between
// "the thing that decides" and "the thing that is decided about".
type GroupView interface {
	MatchCount() int
	MatchResult(i int) Result
	Success() bool
	SetSuccess(bool)
	SetFinalDecision(bool)
	SetDescription(string)
}

// Matcher is the polymorphic matching strategy. Template and
// Haar are its two concrete implementations; dispatch is by interface, not
// by an enum switch, because each strategy owns meaningfully different
// classifier state (snout images vs. a cascade) that doesn't benefit from
// being forced into one struct.
type Matcher interface {
	// Match scores a single frame. A non-nil error means the matcher itself
	// failed (allocation, classifier error), not that classification failed;
	// an unsuccessful classification is a normal Result with Success=false.
	Match(fr *frame.Frame, saveSteps bool) (*Result, error)

	// Decide inspects a completed match group and can override the
	// per-frame majority vote. It returns the final success verdict; when it
	// differs from group.Success() the caller is responsible for calling
	// SetFinalDecision(true) on the group (Decide implementations call it
	// themselves so the veto is never silently lost).
	Decide(group GroupView) bool

	// IsObstructed reports whether the frame appears to have something in
	// front of the backlight. The default implementation is
	// DefaultIsObstructed; a matcher may replace it with something cheaper or more specific.
	IsObstructed(fr *frame.Frame) (bool, error)

	// Translate resolves matcher-specific template variables. ok is false when name isn't one of
	// this matcher's variables.
	Translate(name string) (value string, ok bool)
}

// DirectionVoter is implemented by a Matcher that has its own rule for
// inferring a match group's overall direction from its per-frame
// directions. The FSM tries this first and falls
// back to "any non-unknown direction wins" when a matcher doesn't
// implement it, matching the template matcher's simpler rule.
type DirectionVoter interface {
	GroupDirection(dirs []Direction) Direction
}

// DefaultIsObstructed is shared by both concrete matchers; each embeds it
// instead of duplicating the obstruction check.
func DefaultIsObstructed(fr *frame.Frame) (bool, error) {
	return obstruct.New().IsObstructed(fr.ROI)
}

// MajorityDirection implements the Haar matcher's direction-inference rule:
// majority vote of {in, out, unknown}, ties broken in that order. It's
// shared here because both the FSM (computing group direction) and
// haar.go's own bookkeeping use the identical rule.
func MajorityDirection(dirs []Direction) Direction {
	var counts [3]int
	for _, d := range dirs {
		counts[d]++
	}
	best := DirectionUnknown
	bestCount := counts[DirectionUnknown]
	if counts[DirectionIn] > bestCount {
		best, bestCount = DirectionIn, counts[DirectionIn]
	}
	if counts[DirectionOut] > bestCount {
		best, bestCount = DirectionOut, counts[DirectionOut]
	}
	return best
}
