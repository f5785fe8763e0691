// Package audio buffers decoded audio sample blocks for an external player.
package audio

import "sync"

// Frame is one block of interleaved float samples.
type Frame struct {
	Frequency uint16
	Channels  uint16
	Timestamp uint64
	Samples   []float32
}

// Queue is a thread-safe FIFO of audio frames. When maxFrames is positive the
// oldest frames are dropped once the backlog exceeds it, so a stalled player
// cannot grow memory without bound.
type Queue struct {
	mu        sync.Mutex
	frames    []Frame
	maxFrames int
	dropped   uint64
}

// NewQueue creates a queue bounded to maxFrames (0 = unbounded).
func NewQueue(maxFrames int) *Queue {
	return &Queue{maxFrames: maxFrames}
}

// Push appends one frame, trimming the backlog from the front if needed.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, f)
	if q.maxFrames > 0 && len(q.frames) > q.maxFrames {
		excess := len(q.frames) - q.maxFrames
		q.dropped += uint64(excess)
		q.frames = append(q.frames[:0], q.frames[excess:]...)
	}
}

// Drain removes and returns every queued frame in arrival order.
func (q *Queue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = nil
	return out
}

// Clear empties the buffer.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.frames = nil
	q.mu.Unlock()
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames were trimmed because of the bound.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
