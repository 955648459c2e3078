package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("vision: frame queue closed")

// FrameQueue is the bounded handoff buffer between the capture loop and the
// processing loop. When full, Push evicts the oldest enqueued frame rather
// than blocking the producer: a real-time consumer is better served by fresh
// frames than by stale ones. Pop blocks until a frame is available, the
// context is cancelled, or the queue is closed.
type FrameQueue struct {
	mu      sync.Mutex
	ch      chan *Frame
	closed  bool
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue with the given capacity (must be positive).
func NewFrameQueue(capacity int) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("vision: queue capacity must be positive, got %d", capacity)
	}
	return &FrameQueue{ch: make(chan *Frame, capacity)}, nil
}

// Push enqueues a frame without ever blocking. If the queue is at capacity
// the oldest frame is evicted to make room and the dropped counter advances.
// Returns false if the queue is already closed (the frame is discarded).
func (q *FrameQueue) Push(f *Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for {
		select {
		case q.ch <- f:
			return true
		default:
		}
		// Full: evict the oldest entry. The receive can lose the race
		// against a concurrent Pop, in which case the retry send wins
		// without an eviction.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a frame is available or the wait is cancelled. It returns
// ErrQueueClosed once the queue is closed and fully drained.
func (q *FrameQueue) Pop(ctx context.Context) (*Frame, error) {
	select {
	case f, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue closed and wakes any blocked consumer with an
// end-of-stream signal. Close is idempotent. Frames already enqueued remain
// readable via Pop until drained.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len reports the number of buffered frames without blocking.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Dropped reports the total number of frames evicted by the drop-oldest
// policy since the queue was created.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }
