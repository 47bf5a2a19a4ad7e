package matcher

import (
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge/internal/frame"
)

// InDirection is the side of the frame the animal exits towards, used to
// decide which way the Haar matcher widens its prey-search ROI and to map
// its column-sum heuristic onto in/out.
type InDirection int

// Valid InDirection values.
const (
	InDirectionLeft InDirection = iota
	InDirectionRight
)

// PreyMethod selects the contour-search strategy used below the detected
// head.
type PreyMethod int

// Valid PreyMethod values.
const (
	PreyMethodAdaptive PreyMethod = iota
	PreyMethodNormal
)

// Scores assigned to each outcome, used by translate() and by the group
// tally. Only Score and Success are ever read outside this file; Score's
// numeric value does not by itself determine Success — see scoreFor.
const (
	scoreHeadPrey = 0.0 // head found, prey found: fail
	scoreHeadNoPrey = 1.0 // head found, no prey (or exiting): success
	scoreNoHeadSoft = 2.0 // no head found, no_match_is_fail=false: soft success
	scoreNoHeadIsFail = 3.0 // no head found, no_match_is_fail=true: fail
	widenPx = 30
	contourAreaMin = 10
	columnSumDiffThr = 25
)

// Haar is the Haar-cascade-based matcher: it detects the cat
// head, then searches a cropped region below it for prey contours.
type Haar struct {
	cascade gocv.CascadeClassifier
	cascadePath string
	inDirection InDirection
	minW, minH int
	eqHistogram bool
	noMatchFail bool
	preyMethod PreyMethod
	preySteps int
	kernel2x2 gocv.Mat
	kernel3x3 gocv.Mat
	kernel5x1 gocv.Mat
}

// HaarConfig holds the Haar matcher's construction-time knobs.
type HaarConfig struct {
	CascadePath string
	InDirection InDirection
	MinWidth int // default 80
	MinHeight int // default 80
	EqHistogram bool
	NoMatchIsFail bool
	PreyMethod PreyMethod
	PreySteps int // 1 or 2
}

// NewHaar loads the cascade XML and preallocates the structuring elements
// used by the prey-search morphology.
func NewHaar(cfg HaarConfig) (*Haar, error) {
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 80
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = 80
	}
	if cfg.PreySteps != 1 && cfg.PreySteps != 2 {
		cfg.PreySteps = 1
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("matcher: failed to load cascade %q", cfg.CascadePath)
	}
	h := &Haar{
		cascade: classifier,
		cascadePath: cfg.CascadePath,
		inDirection: cfg.InDirection,
		minW: cfg.MinWidth,
		minH: cfg.MinHeight,
		eqHistogram: cfg.EqHistogram,
		noMatchFail: cfg.NoMatchIsFail,
		preyMethod: cfg.PreyMethod,
		preySteps: cfg.PreySteps,
		kernel2x2: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2)),
		kernel3x3: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		kernel5x1: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 1)),
	}
	return h, nil
}

// Close releases the cascade classifier and the structuring elements.
func (h *Haar) Close() error {
	h.cascade.Close()
	h.kernel2x2.Close()
	h.kernel3x3.Close()
	h.kernel5x1.Close()
	return nil
}

func (h *Haar) IsObstructed(fr *frame.Frame) (bool, error) {
	return DefaultIsObstructed(fr)
}

func (h *Haar) Match(fr *frame.Frame, saveSteps bool) (*Result, error) {
	gray, err := fr.Gray()
	if err != nil {
		return nil, &Error{Op: "haar.Match", Err: err}
	}
	defer gray.Close()

	detectSrc := gray
	var eq gocv.Mat
	if h.eqHistogram {
		eq = gocv.NewMat()
		gocv.EqualizeHist(gray, &eq)
		defer eq.Close()
		detectSrc = eq
	}

	rects := h.cascade.DetectMultiScaleWithParams(detectSrc, 1.1, 3, 0, image.Pt(h.minW, h.minH), image.Point{})
	if len(rects) > MaxRects {
		rects = rects[:MaxRects]
	}
	res := &Result{Rects: rects}
	if saveSteps {
		res.Steps = append(res.Steps, Step{Name: "detect", Desc: "greyscale detection input", Active: true, Image: detectSrc.Clone()})
	}

	if len(rects) == 0 {
		if h.noMatchFail {
			res.Score = scoreNoHeadIsFail
			res.Success = false
			res.Direction = DirectionUnknown
			res.Description = "no head found in frame (no_match_is_fail)"
			return res, nil
		}
		res.Score = scoreNoHeadSoft
		res.Success = true
		res.Direction = DirectionUnknown
		res.Description = "no head found in frame"
		return res, nil
	}

	head := rects[0]
	roiRect, err := h.preyROI(head, detectSrc.Cols(), detectSrc.Rows())
	if err != nil {
		return nil, &Error{Op: "haar.Match", Err: err}
	}
	roi := gray.Region(roiRect)
	defer roi.Close()

	// Otsu threshold: binary in "normal" mode, binary-inverted in "adaptive"
	// mode.
	thresholded := gocv.NewMat()
	defer thresholded.Close()
	thresholdType := gocv.ThresholdBinary | gocv.ThresholdOtsu
	inverted := h.preyMethod == PreyMethodAdaptive
	if inverted {
		thresholdType = gocv.ThresholdBinaryInv | gocv.ThresholdOtsu
	}
	gocv.Threshold(roi, &thresholded, 0, 255, thresholdType)
	if saveSteps {
		res.Steps = append(res.Steps, Step{Name: "prey_threshold", Desc: "thresholded prey-search ROI", Active: true, Image: thresholded.Clone()})
	}

	direction := columnSumDirection(thresholded, h.inDirection)
	if inverted {
		direction = flipDirection(direction)
	}
	res.Direction = direction

	if direction == DirectionOut {
		// Going out: skip prey detection entirely.
		res.Score = scoreHeadNoPrey
		res.Success = true
		res.Description = "head found, exiting: prey check skipped"
		return res, nil
	}

	prey, err := h.hasPrey(roi, thresholded, inverted)
	if err != nil {
		return nil, &Error{Op: "haar.Match", Err: err}
	}
	if prey {
		res.Score = scoreHeadPrey
		res.Success = false
		res.Description = "head found, prey detected"
	} else {
		res.Score = scoreHeadNoPrey
		res.Success = true
		res.Description = "head found, no prey detected"
	}
	return res, nil
}

// preyROI crops the lower half of the head rectangle, widened towards the
// exit side, clamped to the frame bounds.
func (h *Haar) preyROI(head image.Rectangle, frameW, frameH int) (image.Rectangle, error) {
	lowerHalf := image.Rect(head.Min.X, head.Min.Y+head.Dy()/2, head.Max.X, head.Max.Y)
	switch h.inDirection {
	case InDirectionLeft:
		lowerHalf.Min.X -= widenPx
	default:
		lowerHalf.Max.X += widenPx
	}
	if lowerHalf.Min.X < 0 {
		lowerHalf.Min.X = 0
	}
	if lowerHalf.Min.Y < 0 {
		lowerHalf.Min.Y = 0
	}
	if lowerHalf.Max.X > frameW {
		lowerHalf.Max.X = frameW
	}
	if lowerHalf.Max.Y > frameH {
		lowerHalf.Max.Y = frameH
	}
	if lowerHalf.Empty() {
		return image.Rectangle{}, fmt.Errorf("prey ROI collapsed to empty after clamping")
	}
	return lowerHalf, nil
}

// columnSumDirection sums the leftmost and rightmost 1px columns of the
// thresholded ROI; if they differ enough, the busier side is where the
// animal's body still is, and the other side is where its head is
// pointing.
func columnSumDirection(thresholded gocv.Mat, in InDirection) Direction {
	w, h := thresholded.Cols(), thresholded.Rows()
	if w == 0 || h == 0 {
		return DirectionUnknown
	}
	left := columnSum(thresholded, 0)
	right := columnSum(thresholded, w-1)
	diff := left - right
	if diff < 0 {
		diff = -diff
	}
	if diff <= columnSumDiffThr {
		return DirectionUnknown
	}
	// The side with more white pixels is where the body still is.
	bodyOnLeft := left > right
	var sense InDirection
	if bodyOnLeft {
		sense = InDirectionLeft
	} else {
		sense = InDirectionRight
	}
	if sense == in {
		return DirectionOut
	}
	return DirectionIn
}

func columnSum(m gocv.Mat, col int) int {
	column := m.Region(image.Rect(col, 0, col+1, m.Rows()))
	defer column.Close()
	s := column.Sum()
	return int(s.Val1)
}

func flipDirection(d Direction) Direction {
	switch d {
	case DirectionIn:
		return DirectionOut
	case DirectionOut:
		return DirectionIn
	default:
		return DirectionUnknown
	}
}

// hasPrey dispatches between the two prey-search strategies.
func (h *Haar) hasPrey(gray, globalThresholded gocv.Mat, alreadyInverted bool) (bool, error) {
	switch h.preyMethod {
	case PreyMethodAdaptive:
		return h.hasPreyAdaptive(gray, globalThresholded)
	default:
		return h.hasPreyNormal(globalThresholded)
	}
}

func (h *Haar) hasPreyAdaptive(gray, globalInv gocv.Mat) (bool, error) {
	adaptive := gocv.NewMat()
	defer adaptive.Close()
	gocv.AdaptiveThreshold(gray, &adaptive, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, 11, 2)

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseOr(adaptive, globalInv, &combined)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(combined, &opened, gocv.MorphOpen, h.kernel2x2)
	gocv.MorphologyEx(opened, &opened, gocv.MorphOpen, h.kernel2x2)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(opened, &dilated, h.kernel3x3)
	gocv.Dilate(dilated, &dilated, h.kernel3x3)
	gocv.Dilate(dilated, &dilated, h.kernel3x3)

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(dilated, &inverted)

	contours := gocv.FindContours(inverted, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	return countSignificantContours(contours) > 1, nil
}

func (h *Haar) hasPreyNormal(globalThresholded gocv.Mat) (bool, error) {
	contours := gocv.FindContours(globalThresholded, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	count := countSignificantContours(contours)
	contours.Close()
	if count != 1 || h.preySteps != 2 {
		return count > 1, nil
	}

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(globalThresholded, &eroded, h.kernel3x3)
	gocv.Erode(eroded, &eroded, h.kernel3x3)
	gocv.Erode(eroded, &eroded, h.kernel3x3)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(eroded, &opened, gocv.MorphOpen, h.kernel5x1)

	contours2 := gocv.FindContours(opened, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours2.Close()
	return countSignificantContours(contours2) > 1, nil
}

func countSignificantContours(contours gocv.PointsVector) int {
	n := 0
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > contourAreaMin {
			n++
		}
	}
	return n
}

// Decide implements the veto: if every match in the group is the
// "no head found" soft-success sentinel, the group's overall success is
// overridden to false.
func (h *Haar) Decide(group GroupView) bool {
	allNoHead := true
	for i := 0; i < group.MatchCount(); i++ {
		if group.MatchResult(i).Score != scoreNoHeadSoft {
			allNoHead = false
			break
		}
	}
	if group.MatchCount() > 0 && allNoHead {
		group.SetFinalDecision(true)
		group.SetDescription("No head found in any image")
		group.SetSuccess(false)
		return false
	}
	return group.Success()
}

// GroupDirection implements DirectionVoter with the majority-vote rule for
// the Haar matcher.
func (h *Haar) GroupDirection(dirs []Direction) Direction {
	return MajorityDirection(dirs)
}

func (h *Haar) Translate(name string) (string, bool) {
	switch name {
	case "cascade":
		return h.cascadePath, true
	case "in_direction":
		if h.inDirection == InDirectionLeft {
			return "left", true
		}
		return "right", true
	case "min_size", "min_size_width":
		return strconv.Itoa(h.minW), true
	case "min_size_height":
		return strconv.Itoa(h.minH), true
	case "no_match_is_fail":
		return strconv.FormatBool(h.noMatchFail), true
	case "eq_histogram":
		return strconv.FormatBool(h.eqHistogram), true
	case "prey_method":
		if h.preyMethod == PreyMethodAdaptive {
			return "adaptive", true
		}
		return "normal", true
	case "prey_steps":
		return strconv.Itoa(h.preySteps), true
	default:
		return "", false
	}
}
