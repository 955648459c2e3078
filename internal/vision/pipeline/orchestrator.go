package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

// Default operational limits. Both can be overridden via Config.
const (
	// DefaultCollaboratorTimeout bounds each external detector/describer/sink
	// call so one stuck collaborator cannot stall the loop.
	DefaultCollaboratorTimeout = 10 * time.Second
	// DefaultShutdownDeadline is how long Stop waits for the in-flight frame
	// before abandoning it.
	DefaultShutdownDeadline = 10 * time.Second
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the components and collaborators the orchestrator drives.
// Queue, Motion, Sampler and Dedup are required. Capture, Objects, Describer
// and Sink are optional: without an object detector the pipeline stops at
// motion accounting, and without a sink events are emitted to the log only.
type Config struct {
	Queue   *vision.FrameQueue
	Motion  *vision.MotionDetector
	Sampler *vision.FrameSampler
	Dedup   *vision.Deduplicator

	// Capture, when set, is started on Start and cancelled first on Stop so
	// draining stops pulling new frames before the loop winds down.
	Capture *vision.CaptureRunner

	Objects   ObjectDetector
	Describer Describer
	Sink      EventSink

	CollaboratorTimeout time.Duration
	ShutdownDeadline    time.Duration

	// ErrorLogEvery controls aggregated stage-error logging: the first
	// failure per stage is logged, then every Nth. Default 50.
	ErrorLogEvery uint64
}

// Orchestrator drives the pull-process-decide loop, owns the pipeline
// metrics, and manages shutdown. Lifecycle: Starting → Running → Draining →
// Stopped. All per-frame stage errors are caught inside the loop and the
// loop continues with the next frame; only a closed queue or a permanently
// dead source drains the pipeline.
type Orchestrator struct {
	cfg     Config
	metrics *vision.PipelineMetrics
	errs    *errorAggregator

	sampler atomic.Pointer[vision.FrameSampler]

	state   atomic.Int32
	started atomic.Bool
	stopped atomic.Bool

	// motionFrames counts motion-qualifying frames; it is the counter the
	// sampler is consulted with. Mutated only by the processing loop.
	motionFrames uint64
	lastSeq      uint64

	cancel   context.CancelFunc
	loopDone chan struct{}

	flushOnce sync.Once

	fatalMu  sync.Mutex
	fatalErr error

	newEventID func() string
	now        func() time.Time
}

// New validates the configuration and creates an orchestrator in the
// Starting state. Configuration errors are rejected here, before any loop
// begins: the pipeline never starts in an invalid state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("pipeline: config requires a frame queue")
	}
	if cfg.Motion == nil {
		return nil, fmt.Errorf("pipeline: config requires a motion detector")
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("pipeline: config requires a frame sampler")
	}
	if cfg.Dedup == nil {
		return nil, fmt.Errorf("pipeline: config requires a deduplicator")
	}
	if cfg.CollaboratorTimeout < 0 {
		return nil, fmt.Errorf("pipeline: collaborator timeout must be >= 0, got %v", cfg.CollaboratorTimeout)
	}
	if cfg.CollaboratorTimeout == 0 {
		cfg.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if cfg.ShutdownDeadline < 0 {
		return nil, fmt.Errorf("pipeline: shutdown deadline must be >= 0, got %v", cfg.ShutdownDeadline)
	}
	if cfg.ShutdownDeadline == 0 {
		cfg.ShutdownDeadline = DefaultShutdownDeadline
	}

	o := &Orchestrator{
		cfg:        cfg,
		metrics:    vision.NewPipelineMetrics(),
		errs:       newErrorAggregator(cfg.ErrorLogEvery),
		loopDone:   make(chan struct{}),
		newEventID: uuid.NewString,
		now:        time.Now,
	}
	o.sampler.Store(cfg.Sampler)
	o.state.Store(int32(StateStarting))
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Err returns the fatal error that drained the pipeline, if any.
func (o *Orchestrator) Err() error {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatalErr
}

func (o *Orchestrator) setFatal(err error) {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	if o.fatalErr == nil {
		o.fatalErr = err
	}
}

// Start launches the capture loop (when configured) and the processing loop.
// It returns an error if the orchestrator was already started.
func (o *Orchestrator) Start() error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline: already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	if o.cfg.Capture != nil {
		go func() {
			err := o.cfg.Capture.Run(ctx)
			if err != nil && ctx.Err() == nil {
				opsf("[Pipeline] Frame source fatal: %v", err)
				o.setFatal(err)
				// Closing the queue wakes the loop with end-of-stream so
				// the pipeline drains instead of waiting forever.
				o.cfg.Queue.Close()
			}
		}()
	}

	go o.run(ctx)
	return nil
}

// Stop requests a drain-and-stop. It is idempotent: the first signal drains
// the pipeline and flushes metrics exactly once; any further signal is a
// logged no-op. Stop returns once the loop has wound down or the shutdown
// deadline has passed, whichever comes first.
func (o *Orchestrator) Stop() {
	if !o.stopped.CompareAndSwap(false, true) {
		diagf("[Pipeline] Duplicate stop signal ignored (state %s)", o.State())
		return
	}
	if !o.started.Load() {
		o.state.Store(int32(StateStopped))
		return
	}
	opsf("[Pipeline] Stop requested, draining")
	o.transitionDraining()
	o.cancel()
	select {
	case <-o.loopDone:
	case <-time.After(o.cfg.ShutdownDeadline):
		opsf("[Pipeline] Shutdown deadline %v exceeded, abandoning in-flight work", o.cfg.ShutdownDeadline)
	}
}

func (o *Orchestrator) transitionDraining() {
	o.state.CompareAndSwap(int32(StateStarting), int32(StateDraining))
	o.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// Metrics returns a point-in-time snapshot, safe to call concurrently with
// the running loop.
func (o *Orchestrator) Metrics() vision.MetricsSnapshot {
	snap := o.metrics.Snapshot()
	snap.FramesDropped = o.cfg.Queue.Dropped()
	return snap
}

// RuntimeOptions carries the tunables that may change on a live pipeline.
// Nil fields are left unchanged.
type RuntimeOptions struct {
	SamplingRate       *int
	SuppressionWindow  *time.Duration
	MotionPixelDelta   *float64
	MotionAreaFraction *float64
}

// Reload applies runtime-tunable options without restarting the pipeline.
// The host calls this in response to whatever reload notification it uses;
// the pipeline itself stays ignorant of signals.
func (o *Orchestrator) Reload(opts RuntimeOptions) error {
	if opts.SamplingRate != nil {
		s, err := vision.NewFrameSampler(*opts.SamplingRate)
		if err != nil {
			return err
		}
		o.sampler.Store(s)
		diagf("[Pipeline] Sampling rate reloaded to %d", *opts.SamplingRate)
	}
	if opts.SuppressionWindow != nil {
		if err := o.cfg.Dedup.SetWindow(*opts.SuppressionWindow); err != nil {
			return err
		}
		diagf("[Pipeline] Suppression window reloaded to %v", *opts.SuppressionWindow)
	}
	if opts.MotionPixelDelta != nil || opts.MotionAreaFraction != nil {
		delta := o.cfg.Motion.PixelDelta()
		if opts.MotionPixelDelta != nil {
			delta = *opts.MotionPixelDelta
		}
		area := o.cfg.Motion.AreaFraction()
		if opts.MotionAreaFraction != nil {
			area = *opts.MotionAreaFraction
		}
		if err := o.cfg.Motion.SetThresholds(delta, area); err != nil {
			return err
		}
		diagf("[Pipeline] Motion thresholds reloaded to delta=%g area=%g", delta, area)
	}
	return nil
}

// run is the processing loop. It exits when the wait on the queue is
// cancelled (drain) or the queue closes (end of stream or fatal source).
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.loopDone)
	o.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	opsf("[Pipeline] Running")

	for {
		frame, err := o.cfg.Queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, vision.ErrQueueClosed) {
				opsf("[Pipeline] Frame queue closed, draining")
			}
			break
		}
		o.processFrame(frame)
	}

	o.finish()
}

// finish flushes metrics and transitions to Stopped, exactly once.
func (o *Orchestrator) finish() {
	o.flushOnce.Do(func() {
		o.transitionDraining()
		snap := o.Metrics()
		opsf("[Pipeline] Stopped: captured=%d motion=%d sampled=%d dropped=%d gaps=%d events=%d suppressed=%d errors=%d",
			snap.FramesCaptured, snap.FramesWithMotion, snap.FramesSampled,
			snap.FramesDropped, snap.SequenceGaps, snap.EventsCreated,
			snap.EventsSuppressed, snap.StageErrors)
		o.state.Store(int32(StateStopped))
	})
}

// callWithTimeout runs one collaborator call in its own goroutine and waits
// at most timeout for the result. A call that outlives the deadline is
// abandoned: the ctx it received is cancelled, the deadline error is
// returned, and whatever the call eventually produces is discarded rather
// than treated as an on-time result.
func callWithTimeout[T any](timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("call exceeded %v: %w", timeout, context.DeadlineExceeded)
	}
}

// stageFailure counts one failed stage call and logs it in aggregated form.
func (o *Orchestrator) stageFailure(stage string, frame *vision.Frame, err error) {
	o.metrics.StageErrors.Add(1)
	if count, shouldLog := o.errs.record(stage); shouldLog {
		opsf("[Pipeline] Stage %s failed on frame %d (%d failures so far): %v",
			stage, frame.Seq, count, err)
	}
}

// processFrame runs one frame through motion gating, sampling, the external
// collaborators, de-duplication and persistence. Every stage error is caught
// here; the loop always continues with the next frame.
func (o *Orchestrator) processFrame(frame *vision.Frame) {
	if o.lastSeq != 0 && frame.Seq > o.lastSeq+1 {
		gap := frame.Seq - o.lastSeq - 1
		o.metrics.SequenceGaps.Add(gap)
		tracef("[Pipeline] Sequence gap of %d before frame %d", gap, frame.Seq)
	}
	o.lastSeq = frame.Seq
	o.metrics.FramesCaptured.Add(1)

	start := o.now()
	motion, err := o.cfg.Motion.Detect(frame)
	o.metrics.RecordStage(stageMotion, o.now().Sub(start))
	if err != nil {
		o.stageFailure(stageMotion, frame, err)
		return
	}
	if !motion.HasMotion {
		return
	}
	o.metrics.FramesWithMotion.Add(1)
	o.motionFrames++

	if !o.sampler.Load().ShouldProcess(o.motionFrames) {
		return
	}
	o.metrics.FramesSampled.Add(1)
	tracef("[Pipeline] Frame %d sampled (motion confidence %.4f)", frame.Seq, motion.Confidence)

	if o.cfg.Objects == nil {
		return
	}

	start = o.now()
	detections, err := callWithTimeout(o.cfg.CollaboratorTimeout, func(ctx context.Context) ([]vision.Detection, error) {
		return o.cfg.Objects.Detect(ctx, frame)
	})
	o.metrics.RecordStage(stageDetect, o.now().Sub(start))
	if err != nil {
		o.stageFailure(stageDetect, frame, err)
		return
	}
	if len(detections) == 0 {
		return
	}

	var description string
	if o.cfg.Describer != nil {
		start = o.now()
		description, err = callWithTimeout(o.cfg.CollaboratorTimeout, func(ctx context.Context) (string, error) {
			return o.cfg.Describer.Describe(ctx, frame, detections)
		})
		o.metrics.RecordStage(stageDescribe, o.now().Sub(start))
		if err != nil {
			o.stageFailure(stageDescribe, frame, err)
			return
		}
	}

	if !o.cfg.Dedup.ShouldCreateEvent(detections) {
		o.metrics.EventsSuppressed.Add(1)
		tracef("[Pipeline] Event suppressed for frame %d", frame.Seq)
		return
	}

	primary, _ := vision.PrimaryDetection(detections)
	event := &vision.Event{
		ID:          o.newEventID(),
		Timestamp:   frame.Timestamp,
		FrameSeq:    frame.Seq,
		Label:       primary.Label,
		Confidence:  primary.Confidence,
		Detections:  detections,
		Description: description,
	}
	o.metrics.EventsCreated.Add(1)
	diagf("[Pipeline] Event %s created: %s (%.2f) at frame %d", event.ID, event.Label, event.Confidence, event.FrameSeq)

	if o.cfg.Sink == nil {
		return
	}
	start = o.now()
	_, err = callWithTimeout(o.cfg.CollaboratorTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.cfg.Sink.Persist(ctx, event)
	})
	o.metrics.RecordStage(stagePersist, o.now().Sub(start))
	if err != nil {
		// Persistence is best-effort: the event stands, the failure is
		// only counted and logged.
		o.stageFailure(stagePersist, frame, err)
	}
}
