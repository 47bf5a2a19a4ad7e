package frame

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// FakeSource is a Source that replays a caller-supplied queue of frames,
// following the same role leptontest.LeptonFake plays for the FLIR Lepton:
// a small, deterministic stand-in for the real camera used by FSM and
// matcher tests.
type FakeSource struct {
	queue  []gocv.Mat
	rect   image.Rectangle
	closed bool
}

// NewFake returns a FakeSource with an empty queue. Push frames onto it
// with Enqueue before the code under test calls Acquire.
func NewFake(rect image.Rectangle) *FakeSource {
	return &FakeSource{rect: rect}
}

// Enqueue appends a Mat to be returned by the next Acquire call. Ownership
// of m passes to the FakeSource.
func (f *FakeSource) Enqueue(m gocv.Mat) {
	f.queue = append(f.queue, m)
}

// EnqueueBlank appends a uniformly-coloured width x height greyscale frame,
// convenient for obstruction-detector and "clear frame" tests.
func (f *FakeSource) EnqueueBlank(width, height int, value uint8) {
	m := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	m.SetTo(gocv.NewScalar(float64(value), 0, 0, 0))
	f.Enqueue(m)
}

func (f *FakeSource) Acquire() (*Frame, error) {
	if f.closed {
		return nil, fmt.Errorf("frame: fake source is closed")
	}
	if len(f.queue) == 0 {
		return nil, fmt.Errorf("frame: fake source queue is empty")
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	rect := f.rect
	if !rect.Empty() {
		rect = clamp(rect, m.Cols(), m.Rows())
	}
	fr := newFrame(m, rect)
	fr.CapturedAt = time.Now()
	return fr, nil
}

func (f *FakeSource) Close() error {
	f.closed = true
	for _, m := range f.queue {
		m.Close()
	}
	f.queue = nil
	return nil
}
