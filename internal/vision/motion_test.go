package vision

import (
	"testing"
	"time"
)

func flatFrame(seq uint64, width, height int, value byte) *Frame {
	pixels := make([]byte, width*height)
	for i := range pixels {
		pixels[i] = value
	}
	return &Frame{Seq: seq, Timestamp: time.Now(), Width: width, Height: height, Pixels: pixels}
}

func rectFrame(seq uint64, width, height int, background byte, x, y, rw, rh int, value byte) *Frame {
	f := flatFrame(seq, width, height, background)
	PaintRect(f.Pixels, width, height, x, y, rw, rh, value)
	return f
}

// feedFlat observes count flat frames and fails the test on any error.
func feedFlat(t *testing.T, d *MotionDetector, count int, width, height int, value byte) {
	t.Helper()
	for i := 0; i < count; i++ {
		if _, err := d.Detect(flatFrame(uint64(i), width, height, value)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
}

func TestMotionDetector_LearningPhaseSuppressesExactly(t *testing.T) {
	params := BackgroundParams{LearningFrames: 5}
	d, err := NewMotionDetector(64, 64, 0, params)
	if err != nil {
		t.Fatal(err)
	}

	// Every frame of the learning phase reports no motion even when the
	// scene is changing under it.
	for i := 0; i < 5; i++ {
		f := rectFrame(uint64(i), 64, 64, 100, 10, 10, 20, 20, byte(200+i))
		res, err := d.Detect(f)
		if err != nil {
			t.Fatal(err)
		}
		if res.HasMotion {
			t.Errorf("frame %d: motion reported during learning phase", i)
		}
	}
	if d.Learning() {
		t.Error("detector should have settled after the learning phase")
	}

	// The very next changed frame is reported.
	res, err := d.Detect(rectFrame(5, 64, 64, 100, 30, 30, 20, 20, 220))
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasMotion {
		t.Error("first post-learning changed frame should report motion")
	}
}

func TestMotionDetector_StaticSceneNoMotion(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{LearningFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)

	for i := 0; i < 20; i++ {
		res, err := d.Detect(flatFrame(uint64(5+i), 64, 64, 100))
		if err != nil {
			t.Fatal(err)
		}
		if res.HasMotion {
			t.Errorf("static frame %d reported motion, confidence %g", i, res.Confidence)
		}
	}
}

func TestMotionDetector_RectangleConfidence(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{LearningFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)

	// A 20x20 rectangle is ~9.8% of a 64x64 frame, well above the default
	// 2% area fraction.
	res, err := d.Detect(rectFrame(5, 64, 64, 100, 10, 10, 20, 20, 220))
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasMotion {
		t.Fatal("rectangle should register as motion")
	}
	want := 400.0 / 4096.0
	if res.Confidence < want-0.01 || res.Confidence > want+0.01 {
		t.Errorf("confidence = %g, want about %g", res.Confidence, want)
	}
	changed := 0
	for _, c := range res.Mask {
		if c {
			changed++
		}
	}
	if changed < 390 || changed > 410 {
		t.Errorf("mask marks %d pixels, want about 400", changed)
	}
}

func TestMotionDetector_SmallChangeBelowAreaFraction(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{LearningFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)

	// 5x5 = 25 pixels is ~0.6% of the frame, below the 2% threshold.
	res, err := d.Detect(rectFrame(5, 64, 64, 100, 10, 10, 5, 5, 220))
	if err != nil {
		t.Fatal(err)
	}
	if res.HasMotion {
		t.Errorf("sub-threshold change reported motion, confidence %g", res.Confidence)
	}
	if res.Confidence == 0 {
		t.Error("confidence should still reflect the changed pixels")
	}
}

func TestMotionDetector_SetThresholds(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{LearningFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)

	// Raise the area threshold above the rectangle's ~9.8% coverage; the
	// same scene must stop qualifying as motion.
	if err := d.SetThresholds(25, 0.15); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	res, err := d.Detect(rectFrame(5, 64, 64, 100, 10, 10, 20, 20, 220))
	if err != nil {
		t.Fatal(err)
	}
	if res.HasMotion {
		t.Errorf("motion reported with area threshold 0.15, confidence %g", res.Confidence)
	}
	if d.PixelDelta() != 25 || d.AreaFraction() != 0.15 {
		t.Errorf("thresholds = %g/%g, want 25/0.15", d.PixelDelta(), d.AreaFraction())
	}

	if err := d.SetThresholds(0, 0.05); err == nil {
		t.Error("expected error for non-positive pixel delta")
	}
	if err := d.SetThresholds(25, 1.0); err == nil {
		t.Error("expected error for area fraction outside (0,1)")
	}
}

// A sustained global intensity step (lights on) must be absorbed into the
// background after a bounded number of frames rather than reported forever.
func TestMotionDetector_BrightnessStepAbsorbed(t *testing.T) {
	params := BackgroundParams{LearningFrames: 5, AbsorbAfterFrames: 10}
	d, err := NewMotionDetector(64, 64, 0, params)
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)

	motionFrames := 0
	for i := 0; i < 30; i++ {
		res, err := d.Detect(flatFrame(uint64(5+i), 64, 64, 200))
		if err != nil {
			t.Fatal(err)
		}
		if res.HasMotion {
			motionFrames++
		}
	}
	if motionFrames == 0 {
		t.Error("the step itself should register as motion initially")
	}
	if motionFrames > params.AbsorbAfterFrames+1 {
		t.Errorf("step produced motion on %d frames, want at most %d",
			motionFrames, params.AbsorbAfterFrames+1)
	}

	// Once absorbed, the new level is background.
	res, err := d.Detect(flatFrame(40, 64, 64, 200))
	if err != nil {
		t.Fatal(err)
	}
	if res.HasMotion {
		t.Error("absorbed brightness level still reported as motion")
	}
}

func TestMotionDetector_ResetReentersLearning(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{LearningFrames: 5})
	if err != nil {
		t.Fatal(err)
	}
	feedFlat(t, d, 5, 64, 64, 100)
	if d.Learning() {
		t.Fatal("detector should have settled")
	}

	d.Reset()
	if !d.Learning() {
		t.Fatal("reset should re-enter the learning phase")
	}
	res, err := d.Detect(rectFrame(0, 64, 64, 100, 10, 10, 20, 20, 220))
	if err != nil {
		t.Fatal(err)
	}
	if res.HasMotion {
		t.Error("motion reported immediately after reset")
	}
}

func TestMotionDetector_DimensionMismatch(t *testing.T) {
	d, err := NewMotionDetector(64, 64, 0, BackgroundParams{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Detect(flatFrame(0, 32, 32, 100)); err == nil {
		t.Error("expected error for mismatched frame dimensions")
	}
	if _, err := d.Detect(nil); err == nil {
		t.Error("expected error for nil frame")
	}
	f := &Frame{Width: 64, Height: 64, Pixels: make([]byte, 10)}
	if _, err := d.Detect(f); err == nil {
		t.Error("expected error for short pixel buffer")
	}
}

func TestNewMotionDetector_RejectsBadAreaFraction(t *testing.T) {
	if _, err := NewMotionDetector(64, 64, -0.1, BackgroundParams{}); err == nil {
		t.Error("expected error for negative area fraction")
	}
	if _, err := NewMotionDetector(64, 64, 1.5, BackgroundParams{}); err == nil {
		t.Error("expected error for area fraction above 1")
	}
	if _, err := NewMotionDetector(0, 64, 0, BackgroundParams{}); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestBackgroundModel_FramesSeen(t *testing.T) {
	m, err := NewBackgroundModel(8, 8, BackgroundParams{LearningFrames: 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := m.Observe(flatFrame(uint64(i), 8, 8, 50)); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.FramesSeen(); got != 3 {
		t.Errorf("FramesSeen = %d, want 3", got)
	}
	if m.Learning() {
		t.Error("model should be settled at LearningFrames observations")
	}
	m.Reset()
	if got := m.FramesSeen(); got != 0 {
		t.Errorf("FramesSeen after reset = %d, want 0", got)
	}
}
