package frame

import (
	"image"
	"testing"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Errorf("got %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
	if cfg.AutoROIThr != 90 {
		t.Errorf("got AutoROIThr %v, want 90", cfg.AutoROIThr)
	}
	if cfg.MinBacklight != 10000 {
		t.Errorf("got MinBacklight %d, want 10000", cfg.MinBacklight)
	}
}

func TestConfigValidateRejectsROIAndAutoROITogether(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoROI = true
	cfg.ROI = image.Rect(0, 0, 10, 10)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected --roi and --auto_roi to be rejected together")
	}
}

func TestConfigValidateAllowsEitherAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ROI = image.Rect(0, 0, 10, 10)
	if err := cfg.Validate(); err != nil {
		t.Errorf("a fixed ROI alone should be valid: %v", err)
	}

	cfg = DefaultConfig()
	cfg.AutoROI = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("auto-roi alone should be valid: %v", err)
	}
}

func TestClampIntersectsWithFrameBounds(t *testing.T) {
	got := clamp(image.Rect(-10, -10, 400, 300), 320, 240)
	want := image.Rect(0, 0, 320, 240)
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestClampLeavesInBoundsRectUnchanged(t *testing.T) {
	r := image.Rect(10, 10, 50, 50)
	got := clamp(r, 320, 240)
	if got != r {
		t.Errorf("got %v, want unchanged %v", got, r)
	}
}

func TestFakeSourceAcquireAppliesROI(t *testing.T) {
	src := NewFake(image.Rect(0, 0, 4, 4))
	src.EnqueueBlank(8, 8, 200)

	fr, err := src.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()

	if fr.Rect.Dx() != 4 || fr.Rect.Dy() != 4 {
		t.Errorf("got ROI rect %v, want 4x4", fr.Rect)
	}
}

func TestFakeSourceAcquireEmptyQueueErrors(t *testing.T) {
	src := NewFake(image.Rectangle{})
	if _, err := src.Acquire(); err == nil {
		t.Fatal("expected an error acquiring from an empty queue")
	}
}

func TestFakeSourceCloseRejectsFurtherAcquires(t *testing.T) {
	src := NewFake(image.Rectangle{})
	src.EnqueueBlank(4, 4, 0)
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Acquire(); err == nil {
		t.Fatal("expected Acquire to fail after Close")
	}
}
