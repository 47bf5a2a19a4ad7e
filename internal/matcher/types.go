// Package matcher implements the matcher abstraction and its two concrete
// strategies: the template matcher and the Haar cascade matcher. Both
// score a single frame and can veto a match group's per-frame tally.
package matcher

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge/internal/catpath"
)

// Direction is the inferred direction of travel for a single match or for
// an entire match group.
type Direction int

// Valid Direction values.
const (
	DirectionUnknown Direction = iota
	DirectionIn
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// MaxRects bounds the number of rectangles a single MatchResult records,
// matching the documented MATCH_MAX_RECTS.
const MaxRects = 24

// MaxSteps bounds the number of intermediate images a single MatchResult
// may keep, matching the documented "up to 24 per match".
const MaxSteps = 24

// Step is one intermediate image produced while matching a frame: a
// thresholded copy, a cropped ROI, a contour overlay, and so on.
type Step struct {
	Name string
	Desc string
	Path catpath.Path
	// Active is false for steps that were computed but not selected as part
	// of the final decision (e.g. the flipped-snout pass when the unflipped
	// pass already succeeded).
	Active bool
	// Image is the step's intermediate frame, populated only when Match was
	// called with saveSteps. The caller that reads Result.Steps owns it and
	// must Close it once written out or discarded.
	Image gocv.Mat
}

// Close releases the step's image, if any. Safe to call on a Step whose
// Image was never set.
func (s *Step) Close() {
	if s.Image.Ptr() != nil {
		s.Image.Close()
	}
}

// Result is the outcome of matching a single frame.
type Result struct {
	Score float64
	Success bool
	Description string
	Rects []image.Rectangle
	Direction Direction
	Steps []Step
}

// Error is returned by Match when the matcher itself failed — an
// allocation or classifier failure, not an unsuccessful classification.
// A Result.Score < 0 would signal the same condition; Error is the
// idiomatic Go way to surface it instead of relying on a sentinel score,
// and callers that need the score can check result == nil.
type Error struct {
	Op string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("matcher: %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
