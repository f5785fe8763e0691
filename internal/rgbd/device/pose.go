package device

import (
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// Pose is a rigid camera transform: rotate by Orientation, then translate by
// Position.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// IdentityPose returns the pose that leaves points unchanged.
func IdentityPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// PoseFromExtrinsics converts the pose carried by a Config message.
func PoseFromExtrinsics(e wire.Extrinsics) Pose {
	return Pose{Position: e.Position, Orientation: e.Orientation}
}

// Transform maps a camera-space point into world space. A zero orientation
// is treated as identity; others are normalised first.
func (p Pose) Transform(v r3.Vec) r3.Vec {
	q := p.Orientation
	n := quat.Abs(q)
	if n == 0 {
		return r3.Add(v, p.Position)
	}
	if n != 1 {
		q = quat.Scale(1/n, q)
	}
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Add(r3.Vec{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}, p.Position)
}

// PoseSource supplies the camera pose snapshotted into each committed frame.
type PoseSource interface {
	Pose() Pose
}

// LivePose is updated by the consumer (for example from a tracked headset
// anchor) and read by the processors on commit.
type LivePose struct {
	mu   sync.RWMutex
	pose Pose
}

// NewLivePose starts at the identity pose.
func NewLivePose() *LivePose {
	return &LivePose{pose: IdentityPose()}
}

func (l *LivePose) Set(p Pose) {
	l.mu.Lock()
	l.pose = p
	l.mu.Unlock()
}

func (l *LivePose) Pose() Pose {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pose
}

// RecordedPose is the fixed pose a recording was captured with.
type RecordedPose struct {
	pose Pose
}

func NewRecordedPose(e wire.Extrinsics) RecordedPose {
	return RecordedPose{pose: PoseFromExtrinsics(e)}
}

func (r RecordedPose) Pose() Pose { return r.pose }
