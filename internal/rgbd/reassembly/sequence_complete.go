package reassembly

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// SequenceComplete keeps one buffer per in-flight timestamp and only
// commits a frame once every row has arrived. When the pool runs dry the
// oldest in-flight frame is evicted to make room.
//
// A scan goroutine, started by NewSequenceComplete and stopped by Close,
// commits complete frames in ascending timestamp order and recycles frames
// that fell behind the last commit.
//
// Lock order: mu, then the pool's lock. The pool never calls back in.
type SequenceComplete struct {
	mu     sync.Mutex
	opts   Options
	pool   *framepool.Pool
	frames map[uint64]*framepool.FrameBuffer
	rows   []*RowBitmap // indexed by FrameBuffer.Index
	closed bool

	lastRendered atomic.Uint64

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	stats counters
	log   throttledLog
}

// NewSequenceComplete builds the processor and starts its scan goroutine.
func NewSequenceComplete(opts Options) *SequenceComplete {
	opts.applyDefaults(KindSequenceComplete)
	w, h := int(opts.Intrinsics.Width), int(opts.Intrinsics.Height)
	p := &SequenceComplete{
		opts:   opts,
		pool:   framepool.NewPool(opts.PoolSize, w, h),
		frames: make(map[uint64]*framepool.FrameBuffer, opts.PoolSize),
		rows:   make([]*RowBitmap, opts.PoolSize),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    newThrottledLog(monitoring.Component(string(KindSequenceComplete))),
	}
	for i := range p.rows {
		p.rows[i] = NewRowBitmap(h)
	}
	go p.run()
	return p
}

func (p *SequenceComplete) HandleDepth(ts uint64, blk wire.DepthBlock) {
	if ts < p.lastRendered.Load() {
		p.stats.staleDropped.Add(1)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	b, ok := p.frames[ts]
	if !ok {
		b, ok = p.claim(ts, "depth block")
		if !ok {
			p.mu.Unlock()
			return
		}
	}
	if !validBlock(b, blk) {
		p.stats.invalidBlocks.Add(1)
		p.mu.Unlock()
		return
	}
	loadRows(b, p.opts.Intrinsics, blk)
	p.rows[b.Index()].Set(int(blk.StartRow), int(blk.EndRow))
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// claim finds a buffer for a new timestamp: a free one if possible,
// otherwise the oldest in-flight frame. Must be called with p.mu held.
func (p *SequenceComplete) claim(ts uint64, what string) (*framepool.FrameBuffer, bool) {
	b, ok := p.pool.Acquire()
	if !ok {
		if len(p.frames) == 0 {
			p.stats.poolExhausted.Add(1)
			p.log.warnf("not enough unused frame buffers, dropping %s ts=%d", what, ts)
			return nil, false
		}
		oldest := p.oldestKey()
		b = p.frames[oldest]
		delete(p.frames, oldest)
		p.stats.evicted.Add(1)
		p.log.warnf("dropping frame ts=%d, missing %d of %d rows",
			oldest, p.rows[b.Index()].Missing(), b.Height)
	}
	b.Reset()
	b.Timestamp = ts
	p.rows[b.Index()].Reset()
	p.frames[ts] = b
	return b, true
}

func (p *SequenceComplete) oldestKey() uint64 {
	first := true
	var oldest uint64
	for k := range p.frames {
		if first || k < oldest {
			oldest, first = k, false
		}
	}
	return oldest
}

// attach stores a plane on the frame for ts. A plane that arrives before
// any depth for its frame claims the buffer the same way a depth block does.
func (p *SequenceComplete) attach(ts uint64, what string, set func(*framepool.FrameBuffer)) {
	if ts < p.lastRendered.Load() {
		p.stats.planeDropped.Add(1)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	b, ok := p.frames[ts]
	if !ok {
		if b, ok = p.claim(ts, what); !ok {
			p.stats.planeDropped.Add(1)
			return
		}
	}
	set(b)
}

func (p *SequenceComplete) HandleColor(ts uint64, jpeg []byte) {
	p.attach(ts, "color plane", func(b *framepool.FrameBuffer) { b.SetColor(jpeg) })
}

func (p *SequenceComplete) HandleBodyIndex(ts uint64, jpeg []byte) {
	p.attach(ts, "body-index plane", func(b *framepool.FrameBuffer) { b.SetBodyIndex(jpeg) })
}

func (p *SequenceComplete) run() {
	defer close(p.done)
	t := time.NewTicker(p.opts.ScanInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
		case <-p.wake:
		}
		for p.scan() {
		}
	}
}

// scan recycles frames older than the last commit and commits the oldest
// complete frame, if any. It reports whether a frame was committed.
func (p *SequenceComplete) scan() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.frames) == 0 {
		return false
	}

	keys := make([]uint64, 0, len(p.frames))
	for k := range p.frames {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	watermark := p.lastRendered.Load()
	var (
		commitKey uint64
		found     bool
	)
	for _, k := range keys {
		if k >= watermark && p.rows[p.frames[k].Index()].Complete() {
			commitKey, found = k, true
			break
		}
	}
	if found {
		watermark = commitKey
	}

	for _, k := range keys {
		if k >= watermark {
			break
		}
		b := p.frames[k]
		delete(p.frames, k)
		b.Release()
		p.stats.recycled.Add(1)
	}

	if !found {
		return false
	}
	b := p.frames[commitKey]
	delete(p.frames, commitKey)
	b.Timestamp = commitKey
	b.CameraPose = p.opts.Pose()
	b.Complete = true
	p.lastRendered.Store(commitKey)
	p.opts.Output.Enqueue(b)
	p.stats.committed.Add(1)
	return true
}

func (p *SequenceComplete) Stats() Stats {
	s := p.stats.snapshot(KindSequenceComplete)
	s.Watermark = p.lastRendered.Load()
	p.mu.Lock()
	s.Pending = len(p.frames)
	p.mu.Unlock()
	s.Pool = p.pool.Counts()
	return s
}

// Pool exposes the buffers for conservation checks.
func (p *SequenceComplete) Pool() *framepool.Pool { return p.pool }

// Close stops the scan goroutine, waiting at most a second, and returns
// every in-flight buffer to the pool.
func (p *SequenceComplete) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		select {
		case <-p.done:
		case <-time.After(closeTimeout):
			p.log.Warn("scan goroutine did not stop within timeout")
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		for k, b := range p.frames {
			delete(p.frames, k)
			b.Release()
		}
	})
	return nil
}
