// Package reassembly turns partial depth blocks and image planes into whole
// frames. Two strategies are provided: LatestWins favours recency and never
// waits for missing rows; SequenceComplete only delivers frames whose every
// row arrived.
package reassembly

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/banshee-data/depth.stream/internal/rgbd/device"
	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// Kind selects a reassembly strategy.
type Kind string

const (
	KindLatestWins       Kind = "latest-wins"
	KindSequenceComplete Kind = "sequence-complete"
)

// ParseKind validates a strategy name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLatestWins, KindSequenceComplete:
		return Kind(s), nil
	case "":
		return KindLatestWins, nil
	default:
		return "", fmt.Errorf("unknown processor kind %q", s)
	}
}

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultLatestWinsPoolSize       = 30
	DefaultSequenceCompletePoolSize = 16
	DefaultStaleResyncThreshold     = 1000
	DefaultScanInterval             = time.Millisecond
	closeTimeout                    = time.Second
)

// Processor consumes decoded blocks for one device configuration. The
// Handle methods are called from the receive goroutine only; Stats may be
// called from anywhere.
type Processor interface {
	HandleDepth(ts uint64, blk wire.DepthBlock)
	HandleColor(ts uint64, jpeg []byte)
	HandleBodyIndex(ts uint64, jpeg []byte)
	Stats() Stats
	Close() error
}

// Options configures a processor.
type Options struct {
	Intrinsics wire.Intrinsics
	Output     *framepool.OutputQueue

	// Pose is snapshotted into each committed frame. Nil means identity.
	Pose func() device.Pose

	PoolSize int

	// StaleResyncThreshold is how many consecutive stale depth blocks
	// LatestWins drops before assuming the sender restarted its clock.
	StaleResyncThreshold int

	// ScanInterval is how often SequenceComplete looks for finished
	// frames when no depth write woke it.
	ScanInterval time.Duration
}

func (o *Options) applyDefaults(kind Kind) {
	if o.PoolSize <= 0 {
		if kind == KindSequenceComplete {
			o.PoolSize = DefaultSequenceCompletePoolSize
		} else {
			o.PoolSize = DefaultLatestWinsPoolSize
		}
	}
	if o.StaleResyncThreshold <= 0 {
		o.StaleResyncThreshold = DefaultStaleResyncThreshold
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.Pose == nil {
		o.Pose = device.IdentityPose
	}
	if o.Output == nil {
		o.Output = framepool.NewOutputQueue()
	}
}

// New builds a processor of the given kind sized to opts.Intrinsics.
func New(kind Kind, opts Options) (Processor, error) {
	if opts.Intrinsics.Width == 0 || opts.Intrinsics.Height == 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Intrinsics.Width, opts.Intrinsics.Height)
	}
	switch kind {
	case KindLatestWins, "":
		return NewLatestWins(opts), nil
	case KindSequenceComplete:
		return NewSequenceComplete(opts), nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", kind)
	}
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	Kind          Kind             `json:"kind"`
	Watermark     uint64           `json:"watermark"`
	Committed     uint64           `json:"committed"`
	StaleDropped  uint64           `json:"stale_dropped"`
	ForcedResyncs uint64           `json:"forced_resyncs"`
	PoolExhausted uint64           `json:"pool_exhausted"`
	Evicted       uint64           `json:"evicted"`
	Recycled      uint64           `json:"recycled"`
	PlaneDropped  uint64           `json:"plane_dropped"`
	InvalidBlocks uint64           `json:"invalid_blocks"`
	Pending       int              `json:"pending"`
	Pool          framepool.Counts `json:"pool"`
}

type counters struct {
	committed     atomic.Uint64
	staleDropped  atomic.Uint64
	forcedResyncs atomic.Uint64
	poolExhausted atomic.Uint64
	evicted       atomic.Uint64
	recycled      atomic.Uint64
	planeDropped  atomic.Uint64
	invalidBlocks atomic.Uint64
}

func (c *counters) snapshot(kind Kind) Stats {
	return Stats{
		Kind:          kind,
		Committed:     c.committed.Load(),
		StaleDropped:  c.staleDropped.Load(),
		ForcedResyncs: c.forcedResyncs.Load(),
		PoolExhausted: c.poolExhausted.Load(),
		Evicted:       c.evicted.Load(),
		Recycled:      c.recycled.Load(),
		PlaneDropped:  c.planeDropped.Load(),
		InvalidBlocks: c.invalidBlocks.Load(),
	}
}

// throttledLog limits hot-path warnings to a few per second so that a
// flood of drops cannot swamp the log.
type throttledLog struct {
	*logrus.Entry
	limit *rate.Limiter
}

func newThrottledLog(e *logrus.Entry) throttledLog {
	return throttledLog{Entry: e, limit: rate.NewLimiter(rate.Every(time.Second), 5)}
}

func (l throttledLog) warnf(format string, args ...interface{}) {
	if l.limit.Allow() {
		l.Warnf(format, args...)
	}
}
