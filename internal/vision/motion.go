package vision

import (
	"fmt"
	"sync"
)

// DefaultMotionAreaFraction is the fraction of frame area that must be
// classified as changed before a frame counts as containing motion.
const DefaultMotionAreaFraction = 0.02

// MotionDetector classifies frames as containing motion relative to an
// adaptive background model. Confidence is the fraction of pixels classified
// as changed; HasMotion is true when confidence exceeds the configured area
// fraction. During the model's learning phase HasMotion is always false,
// regardless of measured change, while the model keeps updating.
type MotionDetector struct {
	model *BackgroundModel

	mu           sync.Mutex
	areaFraction float64
}

// NewMotionDetector creates a detector for the given frame geometry.
// areaFraction must be in (0,1); zero selects DefaultMotionAreaFraction.
func NewMotionDetector(width, height int, areaFraction float64, params BackgroundParams) (*MotionDetector, error) {
	if areaFraction == 0 {
		areaFraction = DefaultMotionAreaFraction
	}
	if areaFraction <= 0 || areaFraction >= 1 {
		return nil, fmt.Errorf("vision: motion area fraction must be in (0,1), got %g", areaFraction)
	}
	model, err := NewBackgroundModel(width, height, params)
	if err != nil {
		return nil, err
	}
	return &MotionDetector{model: model, areaFraction: areaFraction}, nil
}

// Detect evaluates one frame against the background model and updates the
// model. Errors indicate a contract violation (nil frame, geometry mismatch),
// never a transient condition.
func (d *MotionDetector) Detect(f *Frame) (MotionResult, error) {
	learning := d.model.Learning()
	mask, changed, err := d.model.Observe(f)
	if err != nil {
		return MotionResult{}, err
	}
	confidence := 0.0
	if len(mask) > 0 {
		confidence = float64(changed) / float64(len(mask))
	}
	return MotionResult{
		HasMotion:  !learning && confidence > d.AreaFraction(),
		Confidence: confidence,
		Mask:       mask,
	}, nil
}

// SetThresholds updates the classification thresholds on a live detector.
// pixelDelta is the per-pixel intensity threshold, areaFraction the changed
// area required for motion. The background model keeps its learnt state.
func (d *MotionDetector) SetThresholds(pixelDelta, areaFraction float64) error {
	if areaFraction <= 0 || areaFraction >= 1 {
		return fmt.Errorf("vision: motion area fraction must be in (0,1), got %g", areaFraction)
	}
	if err := d.model.SetPixelDelta(pixelDelta); err != nil {
		return err
	}
	d.mu.Lock()
	d.areaFraction = areaFraction
	d.mu.Unlock()
	return nil
}

// Reset discards the background model and re-enters the learning phase.
func (d *MotionDetector) Reset() {
	d.model.Reset()
}

// Learning reports whether the detector is still establishing its background.
func (d *MotionDetector) Learning() bool { return d.model.Learning() }

// PixelDelta returns the current per-pixel intensity threshold.
func (d *MotionDetector) PixelDelta() float64 { return d.model.PixelDelta() }

// AreaFraction returns the configured motion area threshold.
func (d *MotionDetector) AreaFraction() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.areaFraction
}
