// Package framequeue provides the bounded hand-off buffer between a capture
// producer and the pipeline consumer.
//
// The queue favours freshness: Offer never blocks and, when the queue is full,
// evicts the oldest frame to make room. Poll waits at most the given timeout.
package framequeue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/camrec/internal/media"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 10

// Stats holds queue counters.
type Stats struct {
	Offered uint64
	Dropped uint64
	Polled  uint64
	Len     int
	Cap     int
}

// Queue is a fixed-capacity FIFO with drop-oldest backpressure.
// It is safe for one or more producers and one consumer.
type Queue struct {
	mu     sync.Mutex
	frames []media.Frame // ring storage, len == capacity
	head   int
	count  int
	closed bool

	// notify carries at most one pending wake-up for a waiting consumer.
	notify chan struct{}

	offered atomic.Uint64
	dropped atomic.Uint64
	polled  atomic.Uint64
}

// New creates a queue holding at most capacity frames. A capacity below one
// is raised to one.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		frames: make([]media.Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Offer appends a frame, evicting the oldest queued frame when full.
// It never blocks. Offers on a closed queue are discarded.
func (q *Queue) Offer(frame media.Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	capacity := len(q.frames)
	if q.count == capacity {
		q.frames[q.head] = media.Frame{}
		q.head = (q.head + 1) % capacity
		q.count--
		q.dropped.Add(1)
	}
	q.frames[(q.head+q.count)%capacity] = frame
	q.count++
	q.mu.Unlock()

	q.offered.Add(1)

	select {
	case q.notify <- struct{}{}:
	default:
		// Wake-up already pending
	}
}

// Poll removes and returns the oldest frame, waiting up to timeout for one
// to arrive. It returns false when nothing arrived in time or the queue is
// closed and empty.
func (q *Queue) Poll(timeout time.Duration) (media.Frame, bool) {
	return q.PollContext(context.Background(), timeout)
}

// PollContext is Poll that also returns early when ctx is done.
func (q *Queue) PollContext(ctx context.Context, timeout time.Duration) (media.Frame, bool) {
	if frame, ok, closed := q.tryPop(); ok || closed {
		return frame, ok
	}
	if timeout <= 0 {
		return media.Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if frame, ok, closed := q.tryPop(); ok || closed {
				return frame, ok
			}
		case <-timer.C:
			frame, ok, _ := q.tryPop()
			return frame, ok
		case <-ctx.Done():
			return media.Frame{}, false
		}
	}
}

func (q *Queue) tryPop() (frame media.Frame, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return media.Frame{}, false, q.closed
	}

	frame = q.frames[q.head]
	q.frames[q.head] = media.Frame{}
	q.head = (q.head + 1) % len(q.frames)
	q.count--
	q.polled.Add(1)
	return frame, true, q.closed
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.frames)
}

// Drain removes and returns all queued frames, oldest first.
func (q *Queue) Drain() []media.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]media.Frame, 0, q.count)
	for q.count > 0 {
		out = append(out, q.frames[q.head])
		q.frames[q.head] = media.Frame{}
		q.head = (q.head + 1) % len(q.frames)
		q.count--
	}
	return out
}

// Close stops accepting frames and wakes a waiting consumer. Frames already
// queued can still be polled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Offered: q.offered.Load(),
		Dropped: q.dropped.Load(),
		Polled:  q.polled.Load(),
		Len:     q.Len(),
		Cap:     q.Cap(),
	}
}
