package vision

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// stageSampleWindow is the number of recent duration samples retained per
// stage for the rolling timing statistics.
const stageSampleWindow = 512

// PipelineMetrics holds the monotonic counters and rolling per-stage timing
// statistics for a pipeline. Counters only ever increase (until process
// restart). The counters are atomics so Snapshot is safe to call while the
// processing loop is running; the timing windows are guarded by a mutex that
// is only contended when a snapshot is being taken.
type PipelineMetrics struct {
	FramesCaptured   atomic.Uint64
	FramesWithMotion atomic.Uint64
	FramesSampled    atomic.Uint64
	FramesDropped    atomic.Uint64
	SequenceGaps     atomic.Uint64
	EventsCreated    atomic.Uint64
	EventsSuppressed atomic.Uint64
	StageErrors      atomic.Uint64

	mu     sync.Mutex
	stages map[string]*stageWindow
}

// NewPipelineMetrics creates an empty metrics set.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{stages: make(map[string]*stageWindow)}
}

// stageWindow is a fixed-size ring of recent duration samples for one stage.
type stageWindow struct {
	samples []float64 // milliseconds
	next    int
	filled  bool
	count   uint64
	max     float64
}

// RecordStage adds one duration sample for the named stage.
func (m *PipelineMetrics) RecordStage(stage string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.stages[stage]
	if w == nil {
		w = &stageWindow{samples: make([]float64, 0, stageSampleWindow)}
		m.stages[stage] = w
	}
	if len(w.samples) < stageSampleWindow {
		w.samples = append(w.samples, ms)
	} else {
		w.samples[w.next] = ms
		w.next = (w.next + 1) % stageSampleWindow
		w.filled = true
	}
	w.count++
	if ms > w.max {
		w.max = ms
	}
}

// StageStats summarises timing for one pipeline stage. Mean and P95 are
// computed over the rolling sample window; Max is over the process lifetime.
type StageStats struct {
	Count  uint64  `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// MetricsSnapshot is a point-in-time copy of the pipeline metrics, safe to
// hand to status-reporting collaborators while the loop keeps running.
type MetricsSnapshot struct {
	FramesCaptured   uint64                `json:"frames_captured"`
	FramesWithMotion uint64                `json:"frames_with_motion"`
	FramesSampled    uint64                `json:"frames_sampled"`
	FramesDropped    uint64                `json:"frames_dropped"`
	SequenceGaps     uint64                `json:"sequence_gaps"`
	EventsCreated    uint64                `json:"events_created"`
	EventsSuppressed uint64                `json:"events_suppressed"`
	StageErrors      uint64                `json:"stage_errors"`
	Stages           map[string]StageStats `json:"stages"`
}

// Snapshot returns a copy of all counters and stage statistics.
func (m *PipelineMetrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		FramesCaptured:   m.FramesCaptured.Load(),
		FramesWithMotion: m.FramesWithMotion.Load(),
		FramesSampled:    m.FramesSampled.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		SequenceGaps:     m.SequenceGaps.Load(),
		EventsCreated:    m.EventsCreated.Load(),
		EventsSuppressed: m.EventsSuppressed.Load(),
		StageErrors:      m.StageErrors.Load(),
		Stages:           make(map[string]StageStats),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, w := range m.stages {
		if len(w.samples) == 0 {
			continue
		}
		sorted := make([]float64, len(w.samples))
		copy(sorted, w.samples)
		sort.Float64s(sorted)
		snap.Stages[name] = StageStats{
			Count:  w.count,
			MeanMs: stat.Mean(sorted, nil),
			P95Ms:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
			MaxMs:  w.max,
		}
	}
	return snap
}
