package vision

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestPipelineMetrics_CountersSnapshot(t *testing.T) {
	m := NewPipelineMetrics()
	m.FramesCaptured.Add(100)
	m.FramesWithMotion.Add(40)
	m.FramesSampled.Add(4)
	m.FramesDropped.Add(7)
	m.SequenceGaps.Add(2)
	m.EventsCreated.Add(3)
	m.EventsSuppressed.Add(1)
	m.StageErrors.Add(5)

	snap := m.Snapshot()
	if snap.FramesCaptured != 100 || snap.FramesWithMotion != 40 || snap.FramesSampled != 4 {
		t.Errorf("frame counters wrong: %+v", snap)
	}
	if snap.FramesDropped != 7 || snap.SequenceGaps != 2 {
		t.Errorf("drop/gap counters wrong: %+v", snap)
	}
	if snap.EventsCreated != 3 || snap.EventsSuppressed != 1 || snap.StageErrors != 5 {
		t.Errorf("event/error counters wrong: %+v", snap)
	}
	if len(snap.Stages) != 0 {
		t.Errorf("expected no stage stats, got %v", snap.Stages)
	}
}

func TestPipelineMetrics_StageStats(t *testing.T) {
	m := NewPipelineMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordStage("detect", time.Duration(i)*time.Millisecond)
	}

	snap := m.Snapshot()
	stats, ok := snap.Stages["detect"]
	if !ok {
		t.Fatal("missing detect stage stats")
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if math.Abs(stats.MeanMs-50.5) > 0.01 {
		t.Errorf("MeanMs = %g, want 50.5", stats.MeanMs)
	}
	if stats.P95Ms < 94 || stats.P95Ms > 96 {
		t.Errorf("P95Ms = %g, want about 95", stats.P95Ms)
	}
	if stats.MaxMs != 100 {
		t.Errorf("MaxMs = %g, want 100", stats.MaxMs)
	}
}

// Max is over the process lifetime even after the sample leaves the window.
func TestPipelineMetrics_MaxSurvivesWindowEviction(t *testing.T) {
	m := NewPipelineMetrics()
	m.RecordStage("detect", 500*time.Millisecond)
	for i := 0; i < stageSampleWindow; i++ {
		m.RecordStage("detect", time.Millisecond)
	}

	stats := m.Snapshot().Stages["detect"]
	if stats.MaxMs != 500 {
		t.Errorf("MaxMs = %g, want 500", stats.MaxMs)
	}
	if stats.MeanMs > 2 {
		t.Errorf("MeanMs = %g, evicted spike should not dominate the window", stats.MeanMs)
	}
	if stats.Count != stageSampleWindow+1 {
		t.Errorf("Count = %d, want %d", stats.Count, stageSampleWindow+1)
	}
}

func TestPipelineMetrics_ConcurrentRecordAndSnapshot(t *testing.T) {
	m := NewPipelineMetrics()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.FramesCaptured.Add(1)
				m.RecordStage("motion", time.Duration(i%10)*time.Millisecond)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.Snapshot()
		}
	}()
	wg.Wait()
	<-done

	snap := m.Snapshot()
	if snap.FramesCaptured != 4000 {
		t.Errorf("FramesCaptured = %d, want 4000", snap.FramesCaptured)
	}
	if snap.Stages["motion"].Count != 4000 {
		t.Errorf("motion Count = %d, want 4000", snap.Stages["motion"].Count)
	}
}
