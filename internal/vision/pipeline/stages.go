package pipeline

import (
	"context"
	"errors"

	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

// External collaborator contracts. The pipeline only consumes these; their
// implementations (ML detectors, vision-language models, storage) live
// outside this package and are bounded by a per-call timeout so a stuck
// collaborator cannot stall the loop.

// ObjectDetector identifies labelled entities in a frame.
type ObjectDetector interface {
	// Detect returns the entities found in the frame, possibly empty.
	Detect(ctx context.Context, frame *vision.Frame) ([]vision.Detection, error)
}

// Describer produces a semantic text description of a frame.
type Describer interface {
	// Describe returns descriptive text for the frame and its detections.
	Describe(ctx context.Context, frame *vision.Frame, detections []vision.Detection) (string, error)
}

// EventSink persists emitted events. Persistence is best-effort: failures
// are logged and counted but never stop the pipeline.
type EventSink interface {
	Persist(ctx context.Context, event *vision.Event) error
}

// MultiSink fans one event out to several sinks. Each sink is attempted even
// when an earlier one fails; the errors are joined.
type MultiSink []EventSink

func (m MultiSink) Persist(ctx context.Context, event *vision.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Persist(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stage names used for metrics and aggregated error reporting.
const (
	stageMotion   = "motion"
	stageDetect   = "detect"
	stageDescribe = "describe"
	stagePersist  = "persist"
)

// errorAggregator collapses repeated identical stage failures into periodic
// log lines instead of one line per occurrence.
type errorAggregator struct {
	counts map[string]uint64
	every  uint64
}

func newErrorAggregator(every uint64) *errorAggregator {
	if every == 0 {
		every = 50
	}
	return &errorAggregator{counts: make(map[string]uint64), every: every}
}

// record counts one failure for the stage and reports whether this
// occurrence should be logged (the first, then every Nth).
func (a *errorAggregator) record(stage string) (count uint64, shouldLog bool) {
	a.counts[stage]++
	c := a.counts[stage]
	return c, c == 1 || c%a.every == 0
}
