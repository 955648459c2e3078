package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Reconnection backoff defaults. Delays double from base to cap and reset to
// base after any successful connection.
const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
)

// RawFrame is one raw image buffer as read from the stream transport,
// before sequence numbering and timestamping.
type RawFrame struct {
	Pixels []byte
	Width  int
	Height int
}

// FrameSource is the stream transport the capture loop pulls from. Any
// implementation that supports connect/read/close and reports distinguishable
// failure kinds (see ConnectionError) satisfies the contract; the transport
// itself is opaque to the pipeline.
type FrameSource interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (RawFrame, error)
	Close() error
}

// ConnectionErrorKind classifies stream connection failures so the capture
// loop can decide whether a retry makes sense.
type ConnectionErrorKind int

const (
	// ErrKindNetwork indicates a transient network failure; reconnecting may help.
	ErrKindNetwork ConnectionErrorKind = iota
	// ErrKindTimeout indicates the connection attempt timed out; reconnecting may help.
	ErrKindTimeout
	// ErrKindAuth indicates rejected credentials; retrying cannot succeed.
	ErrKindAuth
	// ErrKindMalformedAddress indicates an unparseable stream address; retrying cannot succeed.
	ErrKindMalformedAddress
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindAuth:
		return "auth"
	case ErrKindMalformedAddress:
		return "malformed-address"
	default:
		return "unknown"
	}
}

// ConnectionError wraps a stream connection failure with its classification.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("vision: connect %s failed (%s): %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Permanent reports whether reconnecting with the same configuration can
// ever succeed.
func (e *ConnectionError) Permanent() bool {
	return e.Kind == ErrKindAuth || e.Kind == ErrKindMalformedAddress
}

// ClassifyStreamError maps an arbitrary transport error onto a
// ConnectionErrorKind using message heuristics, for transports that do not
// return typed errors themselves.
func ClassifyStreamError(err error) ConnectionErrorKind {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "401", "403", "forbidden", "credentials", "authentication"):
		return ErrKindAuth
	case containsAny(msg, "malformed", "invalid url", "invalid address", "parse"):
		return ErrKindMalformedAddress
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return ErrKindTimeout
	default:
		return ErrKindNetwork
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ErrSourceDead is wrapped by CaptureRunner.Run when the source is declared
// permanently failed (auth/malformed address, or the configured attempt cap
// was exhausted).
var ErrSourceDead = errors.New("vision: frame source permanently dead")

// backoff produces the reconnection delay sequence base, 2×base, 4×base, …
// capped at max. Reset returns it to the base delay after a success.
type backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = DefaultReconnectBaseDelay
	}
	if max <= 0 {
		max = DefaultReconnectMaxDelay
	}
	return &backoff{base: base, max: max, next: base}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *backoff) Reset() { b.next = b.base }

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	// ReconnectBaseDelay is the first backoff delay (default 1s).
	ReconnectBaseDelay time.Duration
	// ReconnectMaxDelay caps the backoff (default 60s).
	ReconnectMaxDelay time.Duration
	// MaxConnectAttempts bounds consecutive failed connection attempts
	// before the source is declared permanently dead. Zero retries forever,
	// which matches the documented reconnection policy; a cap gives hosts
	// a way to turn a dead camera into a controlled shutdown.
	MaxConnectAttempts int
}

// CaptureRunner runs the capture loop: it pulls raw frames from a
// FrameSource, stamps them with a sequence number and timestamp, and pushes
// them onto the queue without ever blocking on a full buffer. On stream
// interruption it reconnects with exponential backoff. Run exits when the
// context is cancelled or the source is permanently dead; Close on the
// source is always attempted on the way out.
type CaptureRunner struct {
	source FrameSource
	queue  *FrameQueue
	cfg    CaptureConfig

	seq        atomic.Uint64
	reconnects atomic.Uint64
	readErrors atomic.Uint64

	// sleep is the cancellable wait used between reconnection attempts;
	// tests replace it to observe the delay sequence without waiting.
	sleep func(ctx context.Context, d time.Duration) error
	// now stamps frames; tests replace it for deterministic timestamps.
	now func() time.Time
}

// NewCaptureRunner creates a capture runner for the given source and queue.
func NewCaptureRunner(source FrameSource, queue *FrameQueue, cfg CaptureConfig) (*CaptureRunner, error) {
	if source == nil {
		return nil, fmt.Errorf("vision: capture runner requires a source")
	}
	if queue == nil {
		return nil, fmt.Errorf("vision: capture runner requires a queue")
	}
	if cfg.MaxConnectAttempts < 0 {
		return nil, fmt.Errorf("vision: max connect attempts must be >= 0, got %d", cfg.MaxConnectAttempts)
	}
	return &CaptureRunner{
		source: source,
		queue:  queue,
		cfg:    cfg,
		sleep:  sleepCtx,
		now:    time.Now,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnects reports the number of reconnection attempts made so far.
func (r *CaptureRunner) Reconnects() uint64 { return r.reconnects.Load() }

// ReadErrors reports the number of failed reads observed so far.
func (r *CaptureRunner) ReadErrors() uint64 { return r.readErrors.Load() }

// Run drives the capture loop until ctx is cancelled or the source is
// permanently dead. A nil return means a clean, requested shutdown; an
// ErrSourceDead-wrapped return is fatal and should drain the pipeline.
func (r *CaptureRunner) Run(ctx context.Context) error {
	defer func() {
		if err := r.source.Close(); err != nil {
			Opsf("[Capture] Source close failed: %v", err)
		}
	}()

	bo := newBackoff(r.cfg.ReconnectBaseDelay, r.cfg.ReconnectMaxDelay)
	for {
		if err := r.connectWithBackoff(ctx, bo); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		bo.Reset()

		// Read until the stream is interrupted or we are told to stop.
		err := r.readLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrQueueClosed) {
			// The consumer is gone; reconnecting would only feed a dead queue.
			return nil
		}
		r.readErrors.Add(1)
		Opsf("[Capture] Stream interrupted: %v, reconnecting", err)
	}
}

// connectWithBackoff attempts to connect until success, cancellation, a
// permanent failure, or the attempt cap.
func (r *CaptureRunner) connectWithBackoff(ctx context.Context, bo *backoff) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.source.Connect(ctx)
		if err == nil {
			if attempts > 0 {
				Opsf("[Capture] Connected after %d failed attempts", attempts)
			}
			return nil
		}
		attempts++
		r.reconnects.Add(1)

		var ce *ConnectionError
		if errors.As(err, &ce) && ce.Permanent() {
			return fmt.Errorf("%w: %v", ErrSourceDead, err)
		}
		if r.cfg.MaxConnectAttempts > 0 && attempts >= r.cfg.MaxConnectAttempts {
			return fmt.Errorf("%w: %d consecutive failed attempts, last: %v",
				ErrSourceDead, attempts, err)
		}

		delay := bo.Next()
		Opsf("[Capture] Connect failed (attempt %d): %v, retrying in %v", attempts, err, delay)
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// readLoop pulls frames until a read fails or ctx is cancelled. The current
// read is completed (or abandoned by the source honouring ctx) before exit.
func (r *CaptureRunner) readLoop(ctx context.Context) error {
	for {
		raw, err := r.source.Read(ctx)
		if err != nil {
			return err
		}
		f := &Frame{
			Seq:       r.seq.Add(1),
			Timestamp: r.now(),
			Width:     raw.Width,
			Height:    raw.Height,
			Pixels:    raw.Pixels,
		}
		if !r.queue.Push(f) {
			// Queue closed under us: the consumer is gone.
			return ErrQueueClosed
		}
		Tracef("[Capture] Frame %d pushed (queue depth %d)", f.Seq, r.queue.Len())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
