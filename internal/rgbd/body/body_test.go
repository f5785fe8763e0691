package body

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestJointCount(t *testing.T) {
	assert.Equal(t, 25, int(JointCount))
	assert.Equal(t, JointType(24), ThumbRight)
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := uint32(1); i <= 3; i++ {
		q.Push(Frame{TrackingID: i})
	}
	require.Equal(t, 3, q.Len())

	got := q.Drain()
	require.Len(t, got, 3)
	for i, f := range got {
		assert.Equal(t, uint32(i+1), f.TrackingID)
	}
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue()
	q.Push(Frame{TrackingID: 7})
	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(Frame{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, q.Len())
}

func TestFrame_TrackedJoints(t *testing.T) {
	var f Frame
	f.Joints[Head] = Joint{Position: r3.Vec{X: 0.1, Y: 1.7, Z: 2}, State: Tracked}
	f.Joints[HandLeft] = Joint{Position: r3.Vec{X: -0.4, Y: 1.1, Z: 2}, State: Inferred}

	got := f.TrackedJoints()
	assert.Len(t, got, 2)
	assert.Equal(t, 1.7, got[Head].Y)
	_, ok := got[SpineBase]
	assert.False(t, ok)
}
