// Package body holds skeletal body records and the queue that hands them
// from the receive goroutine to the body-tracking consumer.
//
// Per-ID lifecycle (create on first sight, expire after inactivity) belongs to
// the consumer; this package only transports frames in arrival order.
package body

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// TrackingState classifies confidence in a joint or lean estimate.
type TrackingState uint8

const (
	NotTracked TrackingState = 0
	Inferred   TrackingState = 1
	Tracked    TrackingState = 2
)

// HandState is the detected hand pose.
type HandState uint8

const (
	HandUnknown    HandState = 0
	HandNotTracked HandState = 1
	HandOpen       HandState = 2
	HandClosed     HandState = 3
	HandLasso      HandState = 4
)

// JointType indexes Frame.Joints.
type JointType int

const (
	SpineBase JointType = iota
	SpineMid
	Neck
	Head
	ShoulderLeft
	ElbowLeft
	WristLeft
	HandLeft
	ShoulderRight
	ElbowRight
	WristRight
	HandRight
	HipLeft
	KneeLeft
	AnkleLeft
	FootLeft
	HipRight
	KneeRight
	AnkleRight
	FootRight
	SpineShoulder
	HandTipLeft
	ThumbLeft
	HandTipRight
	ThumbRight

	JointCount
)

// Joint is one skeletal joint in camera space.
type Joint struct {
	Position r3.Vec
	State    TrackingState
}

// Frame is one body observed at one instant.
type Frame struct {
	Timestamp         uint64
	TrackingID        uint32
	HandLeft          HandState
	HandRight         HandState
	LeanTrackingState TrackingState
	Lean              [2]float32
	Joints            [JointCount]Joint
}

// TrackedJoints returns the joints whose state allows a positional update,
// keyed by joint type.
func (f *Frame) TrackedJoints() map[JointType]r3.Vec {
	out := make(map[JointType]r3.Vec, JointCount)
	for i, j := range f.Joints {
		if j.State != NotTracked {
			out[JointType(i)] = j.Position
		}
	}
	return out
}

// Queue is a thread-safe FIFO of body frames. One writer (the decoder) and
// one reader (the consumer tick) are expected.
type Queue struct {
	mu     sync.Mutex
	frames []Frame
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends one frame.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
}

// Drain removes and returns every queued frame in arrival order.
func (q *Queue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = nil
	return out
}

// Clear discards every queued frame.
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
