package reassembly

import (
	"sync"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// LatestWins writes every accepted block straight into a single
// accumulation buffer and commits it as soon as a block reaching the last
// row arrives with a timestamp newer than the previous commit. Rows that
// were lost keep the values of the previous frame.
//
// The accumulation buffer stays Accumulating for the processor's lifetime
// and is replaced by a fresh pool buffer on each commit, so at least two
// buffers (the accumulator plus one free) must be available to accept data.
type LatestWins struct {
	mu     sync.Mutex
	opts   Options
	pool   *framepool.Pool
	acc    *framepool.FrameBuffer
	closed bool

	watermark   uint64
	staleStreak int

	stats counters
	log   throttledLog
}

// NewLatestWins builds the processor and takes its first accumulation
// buffer from a new pool.
func NewLatestWins(opts Options) *LatestWins {
	opts.applyDefaults(KindLatestWins)
	w, h := int(opts.Intrinsics.Width), int(opts.Intrinsics.Height)
	p := &LatestWins{
		opts: opts,
		pool: framepool.NewPool(opts.PoolSize, w, h),
		log:  newThrottledLog(monitoring.Component(string(KindLatestWins))),
	}
	p.acc, _ = p.pool.Acquire()
	return p
}

// available counts the accumulator plus every free buffer.
func (p *LatestWins) available() int {
	return 1 + p.pool.Free()
}

func (p *LatestWins) HandleDepth(ts uint64, blk wire.DepthBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.acc == nil {
		return
	}

	if ts < p.watermark {
		p.staleStreak++
		if p.staleStreak <= p.opts.StaleResyncThreshold {
			p.stats.staleDropped.Add(1)
			p.log.Debugf("stale depth block ts=%d watermark=%d", ts, p.watermark)
			return
		}
		p.log.Infof("forced resync after %d stale blocks: watermark %d -> %d",
			p.staleStreak-1, p.watermark, ts)
		p.stats.forcedResyncs.Add(1)
		if ts > 0 {
			p.watermark = ts - 1
		} else {
			p.watermark = 0
		}
	}
	p.staleStreak = 0

	if p.available() < 2 {
		p.stats.poolExhausted.Add(1)
		p.log.warnf("renderer not fast enough, dropping depth block ts=%d", ts)
		return
	}
	if !validBlock(p.acc, blk) {
		p.stats.invalidBlocks.Add(1)
		return
	}

	loadRows(p.acc, p.opts.Intrinsics, blk)

	if int(blk.EndRow) == p.acc.Height && ts > p.watermark {
		p.commit(ts)
	}
}

// commit must be called with p.mu held and at least one free buffer.
func (p *LatestWins) commit(ts uint64) {
	next, ok := p.pool.Acquire()
	if !ok {
		p.stats.poolExhausted.Add(1)
		return
	}
	p.watermark = ts

	done := p.acc
	done.Timestamp = ts
	done.CameraPose = p.opts.Pose()

	next.CopyFrom(done)
	p.acc = next

	p.opts.Output.Enqueue(done)
	p.stats.committed.Add(1)
}

func (p *LatestWins) HandleColor(ts uint64, jpeg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.acc == nil {
		return
	}
	if ts < p.watermark {
		p.stats.planeDropped.Add(1)
		return
	}
	if p.available() < 2 {
		p.stats.poolExhausted.Add(1)
		p.log.warnf("renderer not fast enough, dropping color plane ts=%d", ts)
		return
	}
	p.acc.SetColor(jpeg)
}

func (p *LatestWins) HandleBodyIndex(ts uint64, jpeg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.acc == nil {
		return
	}
	if p.available() < 2 {
		p.stats.poolExhausted.Add(1)
		p.log.warnf("renderer not fast enough, dropping body-index plane ts=%d", ts)
		return
	}
	p.acc.SetBodyIndex(jpeg)
}

func (p *LatestWins) Stats() Stats {
	s := p.stats.snapshot(KindLatestWins)
	p.mu.Lock()
	s.Watermark = p.watermark
	p.mu.Unlock()
	s.Pool = p.pool.Counts()
	return s
}

// Pool exposes the buffers for conservation checks.
func (p *LatestWins) Pool() *framepool.Pool { return p.pool }

// Close returns the accumulation buffer. Frames already queued or held by
// the renderer are released by their owners.
func (p *LatestWins) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.acc != nil {
		p.acc.Release()
		p.acc = nil
	}
	return nil
}
