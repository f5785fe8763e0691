// Package framepool owns the fixed set of frame buffers shared by the
// reassembly processors and the renderer, and the queue between them.
//
// Ownership contract:
//   - Free: in the pool's free list, nobody may touch it.
//   - Accumulating: returned by Acquire, written only by the processor.
//   - Queued: in an OutputQueue, read-only.
//   - Held: returned by OutputQueue.Poll, read by the renderer until Release.
//
// A buffer goes back to Free only through Release, which is called by
// whoever owns it at that moment (the renderer, or a processor/queue
// discarding it).
package framepool

import (
	"github.com/banshee-data/depth.stream/internal/rgbd/device"
)

// OwnershipState records who holds a buffer.
type OwnershipState int

const (
	Free OwnershipState = iota
	Accumulating
	Queued
	Held
)

func (s OwnershipState) String() string {
	switch s {
	case Free:
		return "free"
	case Accumulating:
		return "accumulating"
	case Queued:
		return "queued"
	case Held:
		return "held"
	default:
		return "unknown"
	}
}

// FrameBuffer is one reconstructed RGB-D frame.
type FrameBuffer struct {
	Width  int
	Height int

	Depth     []uint16  // Width*Height, row-major
	Positions []float32 // Width*Height*3, camera-space x,y,z
	Color     []byte    // compressed plane, copied from the wire
	BodyIndex []byte    // compressed plane, copied from the wire

	CameraPose device.Pose
	Timestamp  uint64
	Complete   bool

	pool  *Pool
	index int
	state OwnershipState
}

func newFrameBuffer(p *Pool, index, width, height int) *FrameBuffer {
	return &FrameBuffer{
		Width:      width,
		Height:     height,
		Depth:      make([]uint16, width*height),
		Positions:  make([]float32, width*height*3),
		CameraPose: device.IdentityPose(),
		pool:       p,
		index:      index,
	}
}

// Index is the buffer's stable position within its pool.
func (b *FrameBuffer) Index() int { return b.index }

// State returns the current ownership state.
func (b *FrameBuffer) State() OwnershipState {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.state
}

// Release returns the buffer to the pool it came from.
func (b *FrameBuffer) Release() {
	b.pool.Release(b)
}

// Reset clears per-frame metadata. Sample arrays keep their contents.
func (b *FrameBuffer) Reset() {
	b.Timestamp = 0
	b.Complete = false
	b.Color = b.Color[:0]
	b.BodyIndex = b.BodyIndex[:0]
	b.CameraPose = device.IdentityPose()
}

// CopyFrom carries src's accumulated state forward into b so that rows not
// yet rewritten for the next frame still hold the latest values.
func (b *FrameBuffer) CopyFrom(src *FrameBuffer) {
	copy(b.Depth, src.Depth)
	copy(b.Positions, src.Positions)
	b.Color = append(b.Color[:0], src.Color...)
	b.BodyIndex = append(b.BodyIndex[:0], src.BodyIndex...)
	b.Timestamp = src.Timestamp
	b.CameraPose = src.CameraPose
	b.Complete = false
}

// SetColor copies a compressed color plane into the buffer.
func (b *FrameBuffer) SetColor(p []byte) {
	b.Color = append(b.Color[:0], p...)
}

// SetBodyIndex copies a compressed body-index plane into the buffer.
func (b *FrameBuffer) SetBodyIndex(p []byte) {
	b.BodyIndex = append(b.BodyIndex[:0], p...)
}
