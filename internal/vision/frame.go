package vision

import (
	"fmt"
	"time"
)

// Frame is a single captured image with its capture metadata. Pixels is a
// grayscale buffer of length Width*Height (row-major, 0-255). A frame is
// owned by the queue once pushed and must not be mutated after that point;
// the processing loop takes exclusive ownership when it pops the frame.
type Frame struct {
	Seq       uint64    // monotonic sequence number assigned at capture
	Timestamp time.Time // capture wall-clock time
	Width     int
	Height    int
	Pixels    []byte
}

// Validate checks the pixel buffer matches the declared dimensions.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("pixel buffer length %d does not match %dx%d", len(f.Pixels), f.Width, f.Height)
	}
	return nil
}

// MotionResult is the per-frame output of the motion detector. Confidence is
// the fraction of pixels classified as changed, always in [0,1]. Mask has one
// entry per pixel; true marks a changed pixel. The result is transient and is
// not persisted.
type MotionResult struct {
	HasMotion  bool
	Confidence float64
	Mask       []bool
}

// Detection is one labelled entity reported by an external object detector.
// Box is [x, y, width, height] in pixel coordinates.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// PrimaryDetection returns the highest-confidence detection, or false when
// the set is empty. Ties keep the earliest entry so the choice is stable.
func PrimaryDetection(detections []Detection) (Detection, bool) {
	if len(detections) == 0 {
		return Detection{}, false
	}
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

// Event is an emitted pipeline event: one real-world occurrence judged worth
// recording after motion gating, sampling and de-duplication.
type Event struct {
	ID          string
	Timestamp   time.Time
	FrameSeq    uint64
	Label       string
	Confidence  float64
	Detections  []Detection
	Description string
}
