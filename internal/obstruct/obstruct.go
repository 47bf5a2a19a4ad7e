// Package obstruct implements a cheap per-frame test for whether something
// is blocking the backlight behind the cat door, used to gate when the
// match-group FSM starts matching.
package obstruct

import (
	"image"

	"gocv.io/x/gocv"
)

// centerFraction is the fraction of the ROI's width and height used for the
// obstruction test rectangle, fixed at 50%/10% and explicitly
// non-configurable; these are package vars rather than named constants
// only so a test can shrink the region deterministically, not because
// they are meant to be exposed on any CLI or config surface.
var (
	centerWidthFraction = 0.5
	centerHeightFraction = 0.1
)

const (
	threshold = 90
	sumCutoff = 200 // one dark pixel (255 after the inverted threshold) already exceeds it
	maxValue = 255
)

// Detector holds no state; it is a value type so the FSM can keep one
// inline without worrying about lifetime.
type Detector struct{}

// New returns a ready-to-use Detector.
func New() Detector { return Detector{} }

// centerRect returns the centred test rectangle for a ROI of the given
// size: 50% of the width, 10% of the height, centred.
func centerRect(roi image.Rectangle) image.Rectangle {
	w := int(float64(roi.Dx()) * centerWidthFraction)
	h := int(float64(roi.Dy()) * centerHeightFraction)
	cx := roi.Min.X + roi.Dx()/2
	cy := roi.Min.Y + roi.Dy()/2
	r := image.Rect(cx-w/2, cy-h/2, cx-w/2+w, cy-h/2+h)
	return r.Intersect(roi)
}

// IsObstructed reports whether the centred test rectangle of roi is dark
// enough to mean something (the cat) is in front of the backlight.
//
// IsObstructed is ROI-symmetric: it operates entirely in ROI-local
// coordinates so translating the frame by the ROI offset never changes the
// decision.
func (Detector) IsObstructed(roi gocv.Mat) (bool, error) {
	bounds := image.Rect(0, 0, roi.Cols(), roi.Rows())
	testRect := centerRect(bounds)
	if testRect.Empty() {
		return false, nil
	}
	crop := roi.Region(testRect)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if crop.Channels() != 1 {
		gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)
	} else {
		crop.CopyTo(&gray)
	}

	inv := gocv.NewMat()
	defer inv.Close()
	gocv.Threshold(gray, &inv, threshold, maxValue, gocv.ThresholdBinaryInv)

	sum := inv.Sum()
	return sum.Val1 > sumCutoff, nil
}
