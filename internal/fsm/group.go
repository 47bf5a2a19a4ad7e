// Package fsm implements the match-group finite state machine: it owns
// the active MatchGroup, sequences frames through
// waiting/matching/keep_open/lockout, and drives GPIO and the event engine
// as it does so.
package fsm

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"github.com/catcierge/catcierge/internal/catpath"
	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/matcher"
)

// DefaultMatchMaxCount is MATCH_MAX_COUNT's default.
const DefaultMatchMaxCount = 4

// MatchState is one slot in a match group: a MatchResult plus the image
// that produced it and its derived identity.
type MatchState struct {
	Result matcher.Result
	Image *frame.Frame
	CapturedAt time.Time
	TimeStr string
	ID [sha1.Size]byte
	Path catpath.Path
}

func newMatchState(fr *frame.Frame, result matcher.Result, now time.Time, dir catpath.Path) MatchState {
	ts := now.Format("20060102-150405.000000")
	id := sha1.Sum(append([]byte(ts), imageDigestBytes(fr)...))
	return MatchState{
		Result: result,
		Image: fr,
		CapturedAt: now,
		TimeStr: ts,
		ID: id,
		Path: dir,
	}
}

// successStr matches the event engine's match#_success_str wording, so
// filenames on disk read the same as the "success"/"fail" event variable.
func successStr(success bool) string {
	if success {
		return "success"
	}
	return "fail"
}

// imageDigestBytes is a cheap stand-in for hashing the raw pixel buffer:
// gocv.Mat doesn't expose a zero-copy byte view outside the frame package,
// so the id only needs to be stable and distinct per match, not bound
// byte-for-byte to pixel content.
func imageDigestBytes(fr *frame.Frame) []byte {
	return []byte(fmt.Sprintf("%p-%d-%d", fr, fr.Rect.Dx(), fr.Rect.Dy()))
}

// MatchGroup is the unit of decision making: a list of at most MaxCount
// MatchStates (AddMatch refuses further matches once full) plus the obstruct image that started them and the
// fields the matcher's Decide is allowed to override. It implements
// matcher.GroupView.
type MatchGroup struct {
	ID [sha1.Size]byte
	StartTime time.Time
	EndTime time.Time

	ObstructImage *frame.Frame
	ObstructPath catpath.Path
	ObstructTime time.Time

	MaxCount int
	Matches []MatchState

	SuccessCount int
	success bool
	direction matcher.Direction
	description string
	finalDecision bool
}

// NewMatchGroup allocates a group with room for maxCount matches.
func NewMatchGroup(maxCount int) *MatchGroup {
	if maxCount <= 0 {
		maxCount = DefaultMatchMaxCount
	}
	return &MatchGroup{MaxCount: maxCount}
}

// Begin starts a new group from the frame that first triggered matching.
func (g *MatchGroup) Begin(obstructImg *frame.Frame, outputDir string, now time.Time) {
	g.EndTime = time.Time{}
	g.Matches = g.Matches[:0]
	g.SuccessCount = 0
	g.success = false
	g.direction = matcher.DirectionUnknown
	g.description = ""
	g.finalDecision = false

	g.StartTime = now
	g.ObstructImage = obstructImg
	g.ObstructTime = now
	ts := now.Format("20060102-150405.000000")
	g.ID = sha1.Sum(append([]byte(ts), imageDigestBytes(obstructImg)...))
	g.ObstructPath = catpath.New(outputDir, fmt.Sprintf("match_obstruct_%s.png", ts))
}

// AddMatch appends a result to the group if there is room, returning false
// when the group is already full.
func (g *MatchGroup) AddMatch(fr *frame.Frame, result matcher.Result, outputDir string, now time.Time) bool {
	if len(g.Matches) >= g.MaxCount {
		return false
	}
	idx := len(g.Matches)
	ts := now.Format("20060102-150405.000000")
	path := catpath.New(outputDir, fmt.Sprintf("match_%s_%s__%d.png", successStr(result.Success), ts, idx))
	g.Matches = append(g.Matches, newMatchState(fr, result, now, path))
	return true
}

// stepPath derives a step image's path from its match's own path, inserting
// "_step_{n}_{name}" ahead of the extension.
func stepPath(matchPath catpath.Path, idx int, name string) string {
	base := strings.TrimSuffix(matchPath.Filename, ".png")
	return catpath.New(matchPath.Dir, fmt.Sprintf("%s_step_%d_%s.png", base, idx, name)).Full
}

// Full reports whether the group has accumulated MaxCount matches.
func (g *MatchGroup) Full() bool { return len(g.Matches) >= g.MaxCount }

// Close releases every image the group owns (the obstruct image and every
// match's captured frame), per the image-ownership rule.
func (g *MatchGroup) Close() {
	if g.ObstructImage != nil {
		g.ObstructImage.Close()
		g.ObstructImage = nil
	}
	for i := range g.Matches {
		if g.Matches[i].Image != nil {
			g.Matches[i].Image.Close()
			g.Matches[i].Image = nil
		}
		for n := range g.Matches[i].Result.Steps {
			g.Matches[i].Result.Steps[n].Close()
		}
	}
}

// Direction returns the group's inferred direction.
func (g *MatchGroup) Direction() matcher.Direction { return g.direction }

// SetDirection sets the group's inferred direction (fsm's own write, ahead
// of the matcher.GroupView surface Decide uses).
func (g *MatchGroup) SetDirection(d matcher.Direction) { g.direction = d }

// FinalDecision reports whether Decide overrode the per-frame tally.
func (g *MatchGroup) FinalDecision() bool { return g.finalDecision }

// Description returns the group's human-readable outcome description.
func (g *MatchGroup) Description() string { return g.description }

// matcher.GroupView implementation.

// MatchCount implements matcher.GroupView.
func (g *MatchGroup) MatchCount() int { return len(g.Matches) }

// MatchResult implements matcher.GroupView.
func (g *MatchGroup) MatchResult(i int) matcher.Result { return g.Matches[i].Result }

// Success implements matcher.GroupView.
func (g *MatchGroup) Success() bool { return g.success }

// SetSuccess implements matcher.GroupView.
func (g *MatchGroup) SetSuccess(v bool) { g.success = v }

// SetFinalDecision implements matcher.GroupView.
func (g *MatchGroup) SetFinalDecision(v bool) { g.finalDecision = v }

// SetDescription implements matcher.GroupView.
func (g *MatchGroup) SetDescription(s string) { g.description = s }
