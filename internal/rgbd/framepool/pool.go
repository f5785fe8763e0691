package framepool

import (
	"sync"
)

// Pool is a fixed set of preallocated frame buffers handed out in FIFO
// order. Acquire never blocks and never allocates.
type Pool struct {
	mu      sync.Mutex
	buffers []*FrameBuffer
	free    []*FrameBuffer
}

// Counts is a snapshot of how many buffers are in each ownership state.
// The fields always sum to the pool capacity.
type Counts struct {
	Free         int `json:"free"`
	Accumulating int `json:"accumulating"`
	Queued       int `json:"queued"`
	Held         int `json:"held"`
}

// Total returns the number of buffers counted.
func (c Counts) Total() int {
	return c.Free + c.Accumulating + c.Queued + c.Held
}

// NewPool preallocates n buffers of width×height.
func NewPool(n, width, height int) *Pool {
	p := &Pool{
		buffers: make([]*FrameBuffer, n),
		free:    make([]*FrameBuffer, 0, n),
	}
	for i := range p.buffers {
		b := newFrameBuffer(p, i, width, height)
		p.buffers[i] = b
		p.free = append(p.free, b)
	}
	return p
}

// Acquire takes the oldest free buffer. It returns false when the pool is
// exhausted.
func (p *Pool) Acquire() (*FrameBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	b := p.free[0]
	copy(p.free, p.free[1:])
	p.free = p.free[:len(p.free)-1]
	b.state = Accumulating
	return b, true
}

// Release puts b back on the free list. Releasing a buffer twice is a
// caller bug and is not detected.
func (p *Pool) Release(b *FrameBuffer) {
	p.mu.Lock()
	b.state = Free
	p.free = append(p.free, b)
	p.mu.Unlock()
}

func (p *Pool) mark(b *FrameBuffer, s OwnershipState) {
	p.mu.Lock()
	b.state = s
	p.mu.Unlock()
}

// Free returns the number of buffers available to Acquire.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Capacity returns the fixed number of buffers.
func (p *Pool) Capacity() int { return len(p.buffers) }

// Counts tallies every buffer by ownership state.
func (p *Pool) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	var c Counts
	for _, b := range p.buffers {
		switch b.state {
		case Free:
			c.Free++
		case Accumulating:
			c.Accumulating++
		case Queued:
			c.Queued++
		case Held:
			c.Held++
		}
	}
	return c
}
