package fsm

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/matcher"
)

// writeFramePNG flushes a match or obstruct image to disk under a
// deferred-write rule: the FSM only touches the filesystem once a group is
// fully decided, keeping the per-frame matching path fast.
func writeFramePNG(fr *frame.Frame, path string) error {
	if ok := gocv.IMWrite(path, fr.Full); !ok {
		return fmt.Errorf("fsm: gocv failed to write %q", path)
	}
	return nil
}

// writeStepPNG flushes one matcher-recorded intermediate image to disk. A
// step whose Image was never populated (Match called without saveSteps) is
// silently skipped.
func writeStepPNG(step *matcher.Step, path string) error {
	if step.Image.Ptr() == nil {
		return nil
	}
	if ok := gocv.IMWrite(path, step.Image); !ok {
		return fmt.Errorf("fsm: gocv failed to write %q", path)
	}
	return nil
}
