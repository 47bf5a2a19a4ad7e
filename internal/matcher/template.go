package matcher

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge/internal/frame"
)

const (
	templateThreshold = 90 // binarisation threshold applied to both snouts and frames
	templateMaxSnouts = 24
	defaultMatchThresh = 0.8
)

type snout struct {
	name string
	bin gocv.Mat // binary, single channel
	flipped gocv.Mat // horizontally mirrored binary copy
	size image.Point
}

// Template is the template-based matcher: it correlates one
// or more "snout" images against each frame using normalised cross
// correlation and averages the peaks across snouts.
type Template struct {
	snouts []snout
	threshold float64
	matchFlipped bool
}

// NewTemplate loads 1..24 snout images and returns a ready-to-use Template
// matcher. threshold must be in [0, 1].
func NewTemplate(snoutPaths []string, threshold float64, matchFlipped bool) (*Template, error) {
	if len(snoutPaths) == 0 {
		return nil, fmt.Errorf("matcher: template matcher needs at least one snout image")
	}
	if len(snoutPaths) > templateMaxSnouts {
		return nil, fmt.Errorf("matcher: at most %d snouts are supported, got %d", templateMaxSnouts, len(snoutPaths))
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("matcher: threshold %f must be in [0, 1]", threshold)
	}
	t := &Template{threshold: threshold, matchFlipped: matchFlipped}
	for _, p := range snoutPaths {
		raw := gocv.IMRead(p, gocv.IMReadGrayScale)
		if raw.Empty() {
			t.Close()
			return nil, fmt.Errorf("matcher: failed to load snout %q", p)
		}
		bin := gocv.NewMat()
		gocv.Threshold(raw, &bin, templateThreshold, 255, gocv.ThresholdBinary)
		raw.Close()

		var flipped gocv.Mat
		if matchFlipped {
			flipped = gocv.NewMat()
			gocv.Flip(bin, &flipped, 1)
		}
		t.snouts = append(t.snouts, snout{
			name: p,
			bin: bin,
			flipped: flipped,
			size: image.Pt(bin.Cols(), bin.Rows()),
		})
	}
	return t, nil
}

// Close releases every loaded snout image.
func (t *Template) Close() error {
	for _, s := range t.snouts {
		s.bin.Close()
		if !s.flipped.Empty() {
			s.flipped.Close()
		}
	}
	t.snouts = nil
	return nil
}

func (t *Template) IsObstructed(fr *frame.Frame) (bool, error) {
	return DefaultIsObstructed(fr)
}

func (t *Template) Match(fr *frame.Frame, saveSteps bool) (*Result, error) {
	gray, err := fr.Gray()
	if err != nil {
		return nil, &Error{Op: "template.Match", Err: err}
	}
	defer gray.Close()

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, templateThreshold, 255, gocv.ThresholdBinary)

	res := &Result{}
	if saveSteps {
		res.Steps = append(res.Steps, Step{Name: "binary", Desc: "binarised frame", Active: true, Image: bin.Clone()})
	}

	unflippedScore, unflippedRects, err := t.correlate(bin, false)
	if err != nil {
		return nil, &Error{Op: "template.Match", Err: err}
	}
	res.Rects = unflippedRects

	if unflippedScore >= t.threshold {
		res.Score = unflippedScore
		res.Success = true
		res.Direction = DirectionIn
		res.Description = fmt.Sprintf("template match: score=%.3f threshold=%.3f direction=in", unflippedScore, t.threshold)
		return res, nil
	}

	if t.matchFlipped {
		flippedScore, flippedRects, err := t.correlate(bin, true)
		if err != nil {
			return nil, &Error{Op: "template.Match", Err: err}
		}
		if flippedScore >= t.threshold {
			res.Score = flippedScore
			res.Rects = flippedRects
			res.Success = true
			res.Direction = DirectionOut
			res.Description = fmt.Sprintf("template match: score=%.3f threshold=%.3f direction=out (flipped)", flippedScore, t.threshold)
			return res, nil
		}
		if flippedScore > unflippedScore {
			res.Score = flippedScore
		} else {
			res.Score = unflippedScore
		}
	} else {
		res.Score = unflippedScore
	}
	res.Success = false
	res.Direction = DirectionUnknown
	res.Description = fmt.Sprintf("template match: score=%.3f threshold=%.3f direction=unknown", res.Score, t.threshold)
	return res, nil
}

// correlate runs normalised cross-correlation for every snout (or its
// flipped copy) against bin and returns the averaged peak plus one
// rectangle per snout at its peak location.
func (t *Template) correlate(bin gocv.Mat, flipped bool) (float64, []image.Rectangle, error) {
	var sum float64
	rects := make([]image.Rectangle, 0, len(t.snouts))
	for _, s := range t.snouts {
		templ := s.bin
		if flipped {
			if s.flipped.Empty() {
				continue
			}
			templ = s.flipped
		}
		result := gocv.NewMat()
		gocv.MatchTemplate(bin, templ, &result, gocv.TmCcoeffNormed, gocv.NewMat())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
		result.Close()
		sum += float64(maxVal)
		rects = append(rects, image.Rect(maxLoc.X, maxLoc.Y, maxLoc.X+s.size.X, maxLoc.Y+s.size.Y))
	}
	if len(rects) == 0 {
		return 0, nil, fmt.Errorf("no snouts available for this pass")
	}
	return sum / float64(len(rects)), rects, nil
}

// Decide never overrides the per-frame majority vote for the template
// matcher.
func (t *Template) Decide(group GroupView) bool {
	return group.Success()
}

func (t *Template) Translate(name string) (string, bool) {
	switch {
	case name == "snout_count":
		return strconv.Itoa(len(t.snouts)), true
	case name == "threshold":
		return strconv.FormatFloat(t.threshold, 'f', 3, 64), true
	case name == "match_flipped":
		return strconv.FormatBool(t.matchFlipped), true
	case strings.HasPrefix(name, "snout"):
		idxStr := strings.TrimPrefix(name, "snout")
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 || idx >= len(t.snouts) {
			return "", false
		}
		return t.snouts[idx].name, true
	default:
		return "", false
	}
}
