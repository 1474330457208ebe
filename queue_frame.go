package avsync

import "sync"

// FrameItem is a decoded frame tagged with its presentation timestamp and
// the seek epoch it was decoded under (spec §3).
type FrameItem[T any] struct {
	Frame T
	PTS   float64
	Epoch Epoch
}

// FrameQueue is a bounded, multi-producer/single-consumer FIFO of decoded
// frames (spec C2). Semantics mirror PacketQueue: bounded push/pop,
// abort, epoch-tagged flush. On dequeue, ownership of Frame transfers from
// the queue to the render loop.
type FrameQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []FrameItem[T]
	capacity int
	epoch    Epoch
	aborted  bool
}

// NewFrameQueue creates a queue with the given bounded capacity.
func NewFrameQueue[T any](capacity int) *FrameQueue[T] {
	q := &FrameQueue[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks while full, tagging the frame with the queue's current
// epoch and the given PTS. Returns false if aborted.
func (q *FrameQueue[T]) Push(frame T, pts float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity && !q.aborted {
		q.notFull.Wait()
	}
	if q.aborted {
		return false
	}
	q.items = append(q.items, FrameItem[T]{Frame: frame, PTS: pts, Epoch: q.epoch})
	q.notEmpty.Signal()
	return true
}

// Pop blocks while empty. Returns (item, true), or (zero, false) if
// aborted with nothing left to drain.
func (q *FrameQueue[T]) Pop() (FrameItem[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.aborted {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 && q.aborted {
		var zero FrameItem[T]
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}

// Peek returns the head item without dequeuing it, used by the video
// render loop to compare PTS against the master clock before deciding to
// sleep, drop, or present (spec §4.9).
func (q *FrameQueue[T]) Peek() (FrameItem[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero FrameItem[T]
		return zero, false
	}
	return q.items[0], true
}

// Flush discards all queued frames and bumps the epoch.
func (q *FrameQueue[T]) Flush(newEpoch Epoch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.epoch = newEpoch
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// CurrentEpoch returns the queue's epoch at the time of the call.
func (q *FrameQueue[T]) CurrentEpoch() Epoch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Abort permanently wakes all waiters.
func (q *FrameQueue[T]) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Len reports the current queue depth.
func (q *FrameQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
