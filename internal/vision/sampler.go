package vision

import "fmt"

// FrameSampler rate-limits frames passed to expensive downstream processing.
// It is applied after motion filtering: the counter it is handed counts
// motion-qualifying frames only, and the sampler itself keeps no state that
// could desynchronise from the pipeline.
type FrameSampler struct {
	rate uint64
}

// NewFrameSampler creates a sampler with the given rate. A rate of 1
// processes every frame; 10 processes one in ten.
func NewFrameSampler(rate int) (*FrameSampler, error) {
	if rate < 1 {
		return nil, fmt.Errorf("vision: sampling rate must be >= 1, got %d", rate)
	}
	return &FrameSampler{rate: uint64(rate)}, nil
}

// ShouldProcess returns true exactly when frameCount is a multiple of the
// sampling rate.
func (s *FrameSampler) ShouldProcess(frameCount uint64) bool {
	return frameCount%s.rate == 0
}

// Rate returns the configured sampling rate.
func (s *FrameSampler) Rate() int { return int(s.rate) }
