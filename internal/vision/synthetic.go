package vision

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// SyntheticSource is a FrameSource that generates frames procedurally. It is
// used by the demo binary and by tests that need repeatable scenes without a
// camera: a flat background at a fixed intensity, optionally overdrawn per
// frame by a painter callback.
type SyntheticSource struct {
	width      int
	height     int
	interval   time.Duration
	background byte
	painter    func(n uint64, pixels []byte)

	n         atomic.Uint64
	connected atomic.Bool
}

// NewSyntheticSource creates a synthetic source emitting one frame per
// interval. painter may be nil for a fully static scene.
func NewSyntheticSource(width, height int, interval time.Duration, background byte, painter func(n uint64, pixels []byte)) (*SyntheticSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("vision: invalid synthetic dimensions %dx%d", width, height)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("vision: synthetic frame interval must be positive, got %v", interval)
	}
	return &SyntheticSource{
		width:      width,
		height:     height,
		interval:   interval,
		background: background,
		painter:    painter,
	}, nil
}

// Connect is immediate for a synthetic source.
func (s *SyntheticSource) Connect(ctx context.Context) error {
	s.connected.Store(true)
	return nil
}

// Read produces the next frame after the configured interval.
func (s *SyntheticSource) Read(ctx context.Context) (RawFrame, error) {
	if !s.connected.Load() {
		return RawFrame{}, &ConnectionError{Kind: ErrKindNetwork, Addr: "synthetic", Err: fmt.Errorf("not connected")}
	}
	if err := sleepCtx(ctx, s.interval); err != nil {
		return RawFrame{}, err
	}
	n := s.n.Add(1)
	pixels := make([]byte, s.width*s.height)
	for i := range pixels {
		pixels[i] = s.background
	}
	if s.painter != nil {
		s.painter(n, pixels)
	}
	return RawFrame{Pixels: pixels, Width: s.width, Height: s.height}, nil
}

// Close marks the source disconnected.
func (s *SyntheticSource) Close() error {
	s.connected.Store(false)
	return nil
}

// PaintRect fills an axis-aligned rectangle into a grayscale buffer,
// clipping at the frame edges. Used to simulate a moving object.
func PaintRect(pixels []byte, width, height, x, y, rw, rh int, value byte) {
	for row := y; row < y+rh; row++ {
		if row < 0 || row >= height {
			continue
		}
		for col := x; col < x+rw; col++ {
			if col < 0 || col >= width {
				continue
			}
			pixels[row*width+col] = value
		}
	}
}
