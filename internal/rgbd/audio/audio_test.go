package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Unbounded(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 10; i++ {
		q.Push(Frame{Timestamp: uint64(i)})
	}
	assert.Equal(t, 10, q.Len())
	assert.Zero(t, q.Dropped())
}

func TestQueue_TrimsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 5; i++ {
		q.Push(Frame{Timestamp: uint64(i)})
	}

	got := q.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Timestamp)
	assert.Equal(t, uint64(5), got[2].Timestamp)
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(0)
	q.Push(Frame{Samples: []float32{0.5}})
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain())
}
