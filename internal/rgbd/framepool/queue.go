package framepool

import (
	"sync"
	"sync/atomic"
)

// OutputQueue carries committed frames to the renderer. It is unbounded
// but self-limiting: Poll returns only the newest frame and releases the
// rest, so a slow renderer skips frames rather than falling behind.
type OutputQueue struct {
	mu    sync.Mutex
	items []*FrameBuffer

	enqueued  atomic.Uint64
	collapsed atomic.Uint64
}

func NewOutputQueue() *OutputQueue {
	return &OutputQueue{}
}

// Enqueue appends a committed buffer.
func (q *OutputQueue) Enqueue(b *FrameBuffer) {
	b.pool.mark(b, Queued)
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.enqueued.Add(1)
}

// Poll returns the newest queued frame, or nil when empty. Every older
// frame is released back to its pool.
func (q *OutputQueue) Poll() *FrameBuffer {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	newest := items[len(items)-1]
	for _, b := range items[:len(items)-1] {
		b.Release()
	}
	q.collapsed.Add(uint64(len(items) - 1))
	newest.pool.mark(newest, Held)
	return newest
}

// Len returns the number of queued frames.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain releases every queued frame and returns how many there were.
func (q *OutputQueue) Drain() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, b := range items {
		b.Release()
	}
	return len(items)
}

// Enqueued is the total number of frames ever enqueued.
func (q *OutputQueue) Enqueued() uint64 { return q.enqueued.Load() }

// Collapsed is the total number of frames skipped by Poll.
func (q *OutputQueue) Collapsed() uint64 { return q.collapsed.Load() }
