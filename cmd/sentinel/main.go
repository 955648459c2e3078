// Command sentinel runs the motion-triggered event pipeline against a frame
// source and persists emitted events to sqlite. Without a camera transport
// configured it runs a synthetic scene, which is enough to exercise the whole
// pipeline end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/api"
	"github.com/argus-sensing/sentinel.vision/internal/config"
	"github.com/argus-sensing/sentinel.vision/internal/db"
	"github.com/argus-sensing/sentinel.vision/internal/security"
	"github.com/argus-sensing/sentinel.vision/internal/version"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
	"github.com/argus-sensing/sentinel.vision/internal/vision/notify"
	"github.com/argus-sensing/sentinel.vision/internal/vision/pipeline"
	"github.com/argus-sensing/sentinel.vision/internal/vision/storage/sqlite"
)

var (
	configPath  = flag.String("config", "", "Path to tuning config JSON (optional)")
	dataDir     = flag.String("data-dir", ".", "Directory for the event database")
	dbFile      = flag.String("db", "events.db", "Event database filename within data-dir")
	listen      = flag.String("listen", ":8080", "Status API listen address (empty disables)")
	webhookURL  = flag.String("webhook", "", "Webhook URL for event delivery (optional)")
	frameWidth  = flag.Int("width", 640, "Frame width in pixels")
	frameHeight = flag.Int("height", 480, "Frame height in pixels")
	frameRate   = flag.Int("fps", 10, "Synthetic source frame rate")
	retention   = flag.Duration("retention", 30*24*time.Hour, "Event retention before pruning")
	verbose     = flag.Bool("verbose", false, "Enable diagnostic logging")
	trace       = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const pruneInterval = time.Hour

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	writers := vision.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Trace = os.Stderr
	}
	vision.SetLogWriters(writers)
	pipeline.SetLogWriters(writers.Ops, writers.Diag, writers.Trace)

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	dbPath := filepath.Join(*dataDir, *dbFile)
	if err := security.ValidatePathWithinDirectory(dbPath, *dataDir); err != nil {
		log.Fatalf("Invalid database path: %v", err)
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	store := sqlite.NewEventStore(database.DB)

	sinks := pipeline.MultiSink{store}
	if *webhookURL != "" {
		hook, err := notify.NewWebhookNotifier(*webhookURL, nil)
		if err != nil {
			log.Fatalf("Failed to create webhook notifier: %v", err)
		}
		sinks = append(sinks, hook)
	}

	orch, err := buildPipeline(cfg, sinks)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pruner, err := sqlite.NewPruner(store, *retention, pruneInterval, nil)
	if err != nil {
		log.Fatalf("Failed to create pruner: %v", err)
	}
	go pruner.Run(ctx)

	if *listen != "" {
		mux := http.NewServeMux()
		api.NewServer(pipelineView{orch}, store).Routes(mux)
		go func() {
			log.Printf("Status API listening on %s", *listen)
			if err := http.ListenAndServe(*listen, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("Status API failed: %v", err)
			}
		}()
	}

	if err := orch.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}
	log.Printf("Pipeline running (%dx%d @ %d fps)", *frameWidth, *frameHeight, *frameRate)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown requested")
			orch.Stop()
			if err := orch.Err(); err != nil {
				log.Fatalf("Pipeline stopped with error: %v", err)
			}
			return
		case <-reload:
			if *configPath == "" {
				log.Printf("Reload requested but no config file is configured")
				continue
			}
			next, err := config.LoadTuningConfig(*configPath)
			if err != nil {
				log.Printf("Reload failed, keeping previous config: %v", err)
				continue
			}
			rate := next.GetFrameSamplingRate()
			window := next.GetSuppressionWindow()
			delta := next.GetMotionPixelDelta()
			area := next.GetMotionAreaFraction()
			if err := orch.Reload(pipeline.RuntimeOptions{
				SamplingRate:       &rate,
				SuppressionWindow:  &window,
				MotionPixelDelta:   &delta,
				MotionAreaFraction: &area,
			}); err != nil {
				log.Printf("Reload rejected: %v", err)
				continue
			}
			log.Printf("Config reloaded: sampling rate %d, suppression window %v, pixel delta %g, area fraction %g",
				rate, window, delta, area)
		}
	}
}

// pipelineView adapts the orchestrator to the status API contract.
type pipelineView struct {
	o *pipeline.Orchestrator
}

func (v pipelineView) State() string                   { return v.o.State().String() }
func (v pipelineView) Metrics() vision.MetricsSnapshot { return v.o.Metrics() }

// buildPipeline assembles the pipeline components from the tuning config.
func buildPipeline(cfg *config.TuningConfig, sink pipeline.EventSink) (*pipeline.Orchestrator, error) {
	queue, err := vision.NewFrameQueue(cfg.GetQueueCapacity())
	if err != nil {
		return nil, err
	}
	motion, err := vision.NewMotionDetector(*frameWidth, *frameHeight, cfg.GetMotionAreaFraction(), vision.BackgroundParams{
		LearningFrames:           cfg.GetBackgroundLearningFrames(),
		UpdateFraction:           cfg.GetBackgroundUpdateFraction(),
		PostSettleUpdateFraction: cfg.GetPostSettleUpdateFraction(),
		MotionUpdateWeight:       cfg.GetMotionUpdateWeight(),
		PixelDelta:               cfg.GetMotionPixelDelta(),
		AbsorbAfterFrames:        cfg.GetAbsorbAfterFrames(),
	})
	if err != nil {
		return nil, err
	}
	sampler, err := vision.NewFrameSampler(cfg.GetFrameSamplingRate())
	if err != nil {
		return nil, err
	}
	dedup, err := vision.NewDeduplicator(cfg.GetSuppressionWindow())
	if err != nil {
		return nil, err
	}

	source, err := syntheticScene(*frameWidth, *frameHeight, *frameRate)
	if err != nil {
		return nil, err
	}
	capture, err := vision.NewCaptureRunner(source, queue, vision.CaptureConfig{
		ReconnectBaseDelay: cfg.GetReconnectBaseDelay(),
		ReconnectMaxDelay:  cfg.GetReconnectMaxDelay(),
		MaxConnectAttempts: cfg.GetMaxConnectAttempts(),
	})
	if err != nil {
		return nil, err
	}

	orch, err := pipeline.New(pipeline.Config{
		Queue:               queue,
		Motion:              motion,
		Sampler:             sampler,
		Dedup:               dedup,
		Capture:             capture,
		Objects:             blockDetector{threshold: 160},
		Sink:                sink,
		CollaboratorTimeout: cfg.GetCollaboratorTimeout(),
		ShutdownDeadline:    cfg.GetShutdownDeadline(),
	})
	if err != nil {
		return nil, err
	}
	return orch, nil
}

// blockDetector is the demo object detector paired with the synthetic
// scene: it boxes pixels brighter than the threshold and labels the result
// a visitor. It keeps the event path (dedup, sqlite, webhook, status API)
// live without an inference backend.
type blockDetector struct {
	threshold byte
}

func (d blockDetector) Detect(ctx context.Context, frame *vision.Frame) ([]vision.Detection, error) {
	minX, minY := frame.Width, frame.Height
	maxX, maxY := -1, -1
	bright := 0
	for y := 0; y < frame.Height; y++ {
		row := y * frame.Width
		for x := 0; x < frame.Width; x++ {
			if frame.Pixels[row+x] < d.threshold {
				continue
			}
			bright++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return nil, nil
	}
	w := maxX - minX + 1
	h := maxY - minY + 1
	// Confidence is how solidly the bounding box is filled; the synthetic
	// block is a solid rectangle, so this sits near 1.
	confidence := float64(bright) / float64(w*h)
	return []vision.Detection{{
		Label:      "visitor",
		Confidence: confidence,
		Box:        [4]float64{float64(minX), float64(minY), float64(w), float64(h)},
	}}, nil
}

// syntheticScene builds a demo source: a static room with a block crossing
// the frame once a minute.
func syntheticScene(width, height, fps int) (*vision.SyntheticSource, error) {
	interval := time.Second / time.Duration(fps)
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	period := uint64(60 * fps)
	crossing := uint64(10 * fps)
	blockW, blockH := width/8, height/4
	return vision.NewSyntheticSource(width, height, interval, 96, func(n uint64, pixels []byte) {
		phase := n % period
		if phase >= crossing {
			return
		}
		x := int(phase) * (width + blockW) / int(crossing)
		vision.PaintRect(pixels, width, height, x-blockW, height/2, blockW, blockH, 208)
	})
}
