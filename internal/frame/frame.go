// Package frame implements the camera abstraction: it produces one
// greyscale frame at a time from either an integrated camera
// device or a generic video source, and applies a region-of-interest crop
// that can be fixed at start-up or auto-detected from the backlight.
//
// The actual image primitives (colour conversion, thresholding, contour
// finding) are provided by gocv, the same role OpenCV plays in the
// original: this package and internal/matcher are the only two that import
// it directly.
package frame

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image plus the region of interest that the rest of
// the pipeline should operate on. Full holds the untouched capture; ROI is
// a sub-Mat view into Full and must not outlive it.
type Frame struct {
	Full       gocv.Mat
	ROI        gocv.Mat
	Rect       image.Rectangle
	CapturedAt time.Time
}

// Close releases the underlying native image buffers. Every acquired Frame
// must eventually be closed exactly once; the match-group FSM does so when
// a slot is overwritten or the group is reset, per the data model's image
// ownership rule.
func (f *Frame) Close() error {
	var err error
	if !f.ROI.Empty() || f.ROI.Ptr() != nil {
		if e := f.ROI.Close(); e != nil {
			err = e
		}
	}
	if e := f.Full.Close(); e != nil {
		err = e
	}
	return err
}

// Clone deep-copies both the full frame and the ROI view, so the caller can
// retain it past the lifetime of the original (used when a MatchState
// keeps its own copy of the frame that produced a match).
func (f *Frame) Clone() *Frame {
	full := f.Full.Clone()
	var roi gocv.Mat
	if f.Rect.Empty() {
		roi = full
	} else {
		roi = full.Region(f.Rect)
	}
	return &Frame{Full: full, ROI: roi, Rect: f.Rect, CapturedAt: f.CapturedAt}
}

// WithROI returns a Frame whose ROI view is cropped to rect. rect is
// expected to already be clamped to the bounds of full.
func newFrame(full gocv.Mat, rect image.Rectangle) *Frame {
	roi := full
	if !rect.Empty() {
		roi = full.Region(rect)
	}
	return &Frame{Full: full, ROI: roi, Rect: rect, CapturedAt: time.Now()}
}

// Gray returns a greyscale copy of the ROI, converting only if needed.
func (f *Frame) Gray() (gocv.Mat, error) {
	if f.ROI.Channels() == 1 {
		return f.ROI.Clone(), nil
	}
	dst := gocv.NewMat()
	gocv.CvtColor(f.ROI, &dst, gocv.ColorBGRToGray)
	if dst.Empty() {
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("frame: greyscale conversion produced an empty image")
	}
	return dst, nil
}
