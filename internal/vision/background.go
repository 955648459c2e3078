package vision

import (
	"fmt"
	"math"
	"sync"
)

// Default background model tuning values. These mirror the configuration
// surface in internal/config; the zero value of BackgroundParams is filled
// with these at construction time.
const (
	// DefaultLearningFrames is the number of frames spent establishing the
	// background model before motion is reported.
	DefaultLearningFrames = 100
	// DefaultUpdateFraction is the EMA alpha used while the model is still
	// learning. Deliberately high so the model seeds quickly.
	DefaultUpdateFraction = 0.1
	// DefaultPostSettleUpdateFraction is the slower alpha used once settled,
	// sized to absorb gradual lighting drift without learning moving objects.
	DefaultPostSettleUpdateFraction = 0.02
	// DefaultMotionUpdateWeight scales the settled alpha further for pixels
	// classified as changed, so a moving object contributes little to the
	// model while it is in frame.
	DefaultMotionUpdateWeight = 0.1
	// DefaultPixelDelta is the per-pixel intensity difference (0-255 scale)
	// above which a pixel counts as changed.
	DefaultPixelDelta = 25.0
	// DefaultSpreadMultiplier widens the per-pixel threshold by a multiple of
	// the pixel's observed spread, so noisy pixels (foliage, flicker) need a
	// larger deviation to count as changed.
	DefaultSpreadMultiplier = 2.0
	// DefaultAbsorbAfterFrames is the number of consecutive changed
	// observations after which a pixel snaps to the new intensity. A global
	// step change (lights on, camera exposure shift) therefore produces at
	// most this many changed frames per pixel instead of a storm lasting
	// until the slow EMA catches up.
	DefaultAbsorbAfterFrames = 60
)

// BackgroundParams tunes the adaptive background model.
type BackgroundParams struct {
	LearningFrames           int     // frames in the learning phase
	UpdateFraction           float64 // EMA alpha during learning
	PostSettleUpdateFraction float64 // EMA alpha once settled
	MotionUpdateWeight       float64 // multiplier on alpha for changed pixels, in (0,1]
	PixelDelta               float64 // base per-pixel change threshold, 0-255
	SpreadMultiplier         float64 // per-pixel threshold widening by observed spread
	AbsorbAfterFrames        int     // consecutive changed frames before a pixel snaps to the new value; <0 disables
}

func (p *BackgroundParams) applyDefaults() {
	if p.LearningFrames <= 0 {
		p.LearningFrames = DefaultLearningFrames
	}
	if p.UpdateFraction <= 0 || p.UpdateFraction > 1 {
		p.UpdateFraction = DefaultUpdateFraction
	}
	if p.PostSettleUpdateFraction <= 0 || p.PostSettleUpdateFraction > 1 {
		p.PostSettleUpdateFraction = DefaultPostSettleUpdateFraction
	}
	if p.MotionUpdateWeight <= 0 || p.MotionUpdateWeight > 1 {
		p.MotionUpdateWeight = DefaultMotionUpdateWeight
	}
	if p.PixelDelta <= 0 {
		p.PixelDelta = DefaultPixelDelta
	}
	if p.SpreadMultiplier <= 0 {
		p.SpreadMultiplier = DefaultSpreadMultiplier
	}
	if p.AbsorbAfterFrames == 0 {
		p.AbsorbAfterFrames = DefaultAbsorbAfterFrames
	}
}

// BackgroundModel maintains a running per-pixel statistical model of the
// empty scene: an EMA of pixel intensity plus an EMA of absolute deviation
// (spread). The model is seeded from the first observed frame, learns at a
// fast alpha for the first LearningFrames frames, then settles to a slow
// alpha. Pixels classified as changed update with a further reduced weight
// so moving objects are not learnt into the background.
//
// The model is exclusively owned by its MotionDetector; the mutex guards
// Reset and threshold reloads against a concurrently running Observe.
type BackgroundModel struct {
	mu     sync.Mutex
	params BackgroundParams

	width  int
	height int
	mean   []float64
	spread []float64
	// changedRun counts consecutive changed observations per pixel, driving
	// the sustained-change absorption path.
	changedRun []uint16

	framesSeen int
	settled    bool
}

// NewBackgroundModel creates an unseeded model for the given frame geometry.
// Zero-valued params are replaced with defaults.
func NewBackgroundModel(width, height int, params BackgroundParams) (*BackgroundModel, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("vision: invalid model dimensions %dx%d", width, height)
	}
	params.applyDefaults()
	n := width * height
	return &BackgroundModel{
		params:     params,
		width:      width,
		height:     height,
		mean:       make([]float64, n),
		spread:     make([]float64, n),
		changedRun: make([]uint16, n),
	}, nil
}

// Learning reports whether the model is still in its learning phase.
func (m *BackgroundModel) Learning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.settled
}

// FramesSeen returns the number of frames observed since creation or reset.
func (m *BackgroundModel) FramesSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesSeen
}

// Observe classifies each pixel of the frame against the model and then
// updates the model in place. It returns the change mask and the number of
// changed pixels. During the learning phase the mask is still computed (for
// telemetry) but callers must suppress motion per MotionDetector.Detect.
func (m *BackgroundModel) Observe(f *Frame) (mask []bool, changed int, err error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	if f.Width != m.width || f.Height != m.height {
		return nil, 0, fmt.Errorf("vision: frame %dx%d does not match model %dx%d",
			f.Width, f.Height, m.width, m.height)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Seed from the first observation so the model starts at the scene
	// rather than at black.
	if m.framesSeen == 0 {
		for i, px := range f.Pixels {
			m.mean[i] = float64(px)
			m.spread[i] = 0
		}
		m.framesSeen = 1
		mask = make([]bool, len(f.Pixels))
		return mask, 0, nil
	}

	alpha := m.params.UpdateFraction
	if m.settled {
		alpha = m.params.PostSettleUpdateFraction
	}
	motionAlpha := alpha * m.params.MotionUpdateWeight

	mask = make([]bool, len(f.Pixels))
	for i, px := range f.Pixels {
		obs := float64(px)
		diff := math.Abs(obs - m.mean[i])
		threshold := m.params.PixelDelta + m.params.SpreadMultiplier*m.spread[i]
		isChanged := diff > threshold

		if isChanged && m.params.AbsorbAfterFrames > 0 {
			m.changedRun[i]++
			if int(m.changedRun[i]) >= m.params.AbsorbAfterFrames {
				// The deviation has persisted long enough to be the new
				// background (lighting step, repositioned furniture). Snap
				// instead of waiting for the slow EMA.
				m.mean[i] = obs
				m.spread[i] = 0
				m.changedRun[i] = 0
				continue
			}
		} else if !isChanged {
			m.changedRun[i] = 0
		}

		a := alpha
		if isChanged {
			mask[i] = true
			changed++
			a = motionAlpha
		}
		m.mean[i] = (1-a)*m.mean[i] + a*obs
		m.spread[i] = (1-a)*m.spread[i] + a*diff
	}

	m.framesSeen++
	if !m.settled && m.framesSeen >= m.params.LearningFrames {
		m.settled = true
	}
	return mask, changed, nil
}

// PixelDelta returns the base per-pixel change threshold.
func (m *BackgroundModel) PixelDelta() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params.PixelDelta
}

// SetPixelDelta changes the base per-pixel change threshold on a live model.
func (m *BackgroundModel) SetPixelDelta(delta float64) error {
	if delta <= 0 || delta > 255 {
		return fmt.Errorf("vision: pixel delta must be in (0,255], got %g", delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.PixelDelta = delta
	return nil
}

// Reset discards the model and re-enters the learning phase. Triggered on
// detected major scene change or manual request.
func (m *BackgroundModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mean {
		m.mean[i] = 0
		m.spread[i] = 0
		m.changedRun[i] = 0
	}
	m.framesSeen = 0
	m.settled = false
}
