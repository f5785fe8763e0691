package framepool

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireRelease(t *testing.T) {
	p := NewPool(3, 4, 2)
	assert.Equal(t, 3, p.Capacity())
	assert.Equal(t, 3, p.Free())

	a, ok := p.Acquire()
	require.True(t, ok)
	assert.Len(t, a.Depth, 8)
	assert.Len(t, a.Positions, 24)
	assert.Equal(t, Accumulating, a.State())

	b, _ := p.Acquire()
	c, _ := p.Acquire()
	_, ok = p.Acquire()
	assert.False(t, ok, "exhausted pool must not block")

	// FIFO order: released buffers go to the back.
	b.Release()
	a.Release()
	got, _ := p.Acquire()
	assert.Same(t, b, got)

	assert.Equal(t, Counts{Free: 1, Accumulating: 2}, p.Counts())
	c.Release()
	got.Release()
	assert.Equal(t, 3, p.Free())
}

func TestOutputQueue_PollCollapse(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		p := NewPool(8, 2, 2)
		q := NewOutputQueue()
		var last *FrameBuffer
		for i := 0; i < k; i++ {
			b, ok := p.Acquire()
			require.True(t, ok)
			b.Timestamp = uint64(i)
			q.Enqueue(b)
			last = b
		}
		freeBefore := p.Free()

		got := q.Poll()
		require.Same(t, last, got)
		assert.Equal(t, Held, got.State())
		assert.Equal(t, freeBefore+k-1, p.Free(), "k-1 released for k=%d", k)
		assert.Equal(t, uint64(k-1), q.Collapsed())
		assert.Equal(t, 0, q.Len())
		assert.Nil(t, q.Poll())
	}
}

func TestOutputQueue_Drain(t *testing.T) {
	p := NewPool(4, 1, 1)
	q := NewOutputQueue()
	for i := 0; i < 3; i++ {
		b, _ := p.Acquire()
		q.Enqueue(b)
	}
	assert.Equal(t, Counts{Free: 1, Queued: 3}, p.Counts())
	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, 4, p.Free())
	assert.Equal(t, uint64(3), q.Enqueued())
}

func TestPool_Conservation(t *testing.T) {
	const n = 6
	p := NewPool(n, 2, 2)
	q := NewOutputQueue()
	rng := rand.New(rand.NewSource(1))

	var accumulating, held []*FrameBuffer
	for step := 0; step < 2000; step++ {
		switch rng.Intn(4) {
		case 0:
			if b, ok := p.Acquire(); ok {
				accumulating = append(accumulating, b)
			}
		case 1:
			if len(accumulating) > 0 {
				q.Enqueue(accumulating[0])
				accumulating = accumulating[1:]
			}
		case 2:
			if b := q.Poll(); b != nil {
				held = append(held, b)
			}
		case 3:
			if len(held) > 0 {
				held[0].Release()
				held = held[1:]
			}
		}

		c := p.Counts()
		require.Equal(t, n, c.Total())
		require.Equal(t, len(accumulating), c.Accumulating)
		require.Equal(t, len(held), c.Held)
		require.Equal(t, q.Len(), c.Queued)
	}
}

func TestPool_ConcurrentUse(t *testing.T) {
	p := NewPool(4, 8, 8)
	q := NewOutputQueue()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if b, ok := p.Acquire(); ok {
				q.Enqueue(b)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if b := q.Poll(); b != nil {
				b.Release()
			}
		}
	}()
	wg.Wait()
	q.Drain()
	assert.Equal(t, 4, p.Free())
}

func TestFrameBuffer_CopyFromAndReset(t *testing.T) {
	p := NewPool(2, 2, 1)
	src, _ := p.Acquire()
	dst, _ := p.Acquire()

	src.Depth[1] = 900
	src.Positions[5] = 0.9
	src.SetColor([]byte{1, 2, 3})
	src.SetBodyIndex([]byte{4})
	src.Timestamp = 77
	src.Complete = true

	dst.CopyFrom(src)
	assert.Equal(t, uint16(900), dst.Depth[1])
	assert.Equal(t, float32(0.9), dst.Positions[5])
	assert.Equal(t, []byte{1, 2, 3}, dst.Color)
	assert.Equal(t, []byte{4}, dst.BodyIndex)
	assert.False(t, dst.Complete)

	// The copy must not alias the source planes.
	src.Color[0] = 9
	assert.Equal(t, byte(1), dst.Color[0])

	dst.Reset()
	assert.Zero(t, dst.Timestamp)
	assert.Empty(t, dst.Color)
	assert.Equal(t, uint16(900), dst.Depth[1], "samples survive Reset")
}
