package vision

import (
	"fmt"
	"sync"
	"time"
)

// DefaultSuppressionWindow is the period after an event during which
// further candidate events with the same primary label are suppressed.
const DefaultSuppressionWindow = 30 * time.Second

// Deduplicator suppresses redundant event creation for a single continuous
// real-world occurrence spanning many sampled frames. The cache key is the
// label of the highest-confidence detection. Entries older than twice the
// suppression window are pruned eagerly on every call, which bounds memory
// without a separate maintenance task even for long-tail labels that stop
// appearing.
//
// The pipeline mutates the deduplicator from its single processing loop;
// the mutex exists for SetWindow, which the host may call during a reload.
type Deduplicator struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

// DedupOption customises a Deduplicator.
type DedupOption func(*Deduplicator)

// WithClock injects a clock, used by tests to control time.
func WithClock(now func() time.Time) DedupOption {
	return func(d *Deduplicator) { d.now = now }
}

// NewDeduplicator creates a deduplicator with the given suppression window.
func NewDeduplicator(window time.Duration, opts ...DedupOption) (*Deduplicator, error) {
	if window <= 0 {
		return nil, fmt.Errorf("vision: suppression window must be positive, got %v", window)
	}
	d := &Deduplicator{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ShouldCreateEvent decides whether the detection set represents a new
// occurrence. The primary entity is the highest-confidence label. If that
// label produced an event less than the suppression window ago the call
// returns false and the cache entry keeps its original timestamp, so a
// continuous occurrence re-qualifies exactly one window after its first
// event. Otherwise it returns true and records now against the label.
//
// An empty detection set should never reach this component (the pipeline
// gates on non-empty detections); if it does, the call returns false and
// leaves the cache untouched.
func (d *Deduplicator) ShouldCreateEvent(detections []Detection) bool {
	primary, ok := PrimaryDetection(detections)
	if !ok {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if last, seen := d.lastSeen[primary.Label]; seen && now.Sub(last) < d.window {
		return false
	}
	d.lastSeen[primary.Label] = now
	return true
}

// pruneLocked removes entries older than twice the suppression window.
func (d *Deduplicator) pruneLocked(now time.Time) {
	horizon := 2 * d.window
	for label, last := range d.lastSeen {
		if now.Sub(last) >= horizon {
			delete(d.lastSeen, label)
		}
	}
}

// Size reports the number of live cache entries.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSeen)
}

// Window returns the current suppression window.
func (d *Deduplicator) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// SetWindow updates the suppression window at runtime. Existing entries are
// re-evaluated against the new window on the next call.
func (d *Deduplicator) SetWindow(window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("vision: suppression window must be positive, got %v", window)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = window
	return nil
}
