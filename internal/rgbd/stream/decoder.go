// Package stream ties the RGB-D pieces together: a Decoder demultiplexes
// raw messages into the reassembly processor, body and audio queues and the
// device state machine, and a Receiver drives a Decoder from a Transport.
//
// The renderer side of the API (GetNewFrame, ReleaseFrame, DrainBodies,
// DrainAudio, NextEvent) is safe to call from any goroutine.
package stream

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/audio"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
	"github.com/banshee-data/depth.stream/internal/rgbd/device"
	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/reassembly"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
	"github.com/banshee-data/depth.stream/internal/timeutil"
)

// Options configures a Decoder. Zero values select the reassembly defaults.
type Options struct {
	Kind                 reassembly.Kind
	PoolSize             int
	StaleResyncThreshold int
	ScanInterval         time.Duration

	// AudioMaxFrames bounds the audio backlog; 0 is unbounded.
	AudioMaxFrames int

	// LivePose is the pose applied while the device is live. Nil starts
	// at identity.
	LivePose *device.LivePose

	// Registry receives the decoder metrics. Nil creates a private one.
	Registry *prometheus.Registry

	Clock timeutil.Clock
}

// Decoder dispatches raw messages. Dispatch must only be called from one
// goroutine at a time.
type Decoder struct {
	opts     Options
	clock    timeutil.Clock
	registry *prometheus.Registry

	output  *framepool.OutputQueue
	bodies  *body.Queue
	audio   *audio.Queue
	machine *device.Machine

	// mu guards the fields below; Dispatch writes them, everything else
	// reads.
	mu         sync.RWMutex
	proc       reassembly.Processor
	cfg        *wire.DeviceConfig
	lastConfig time.Time

	received    atomic.Uint64
	lastMessage atomic.Int64 // UnixNano of the last dispatched message
	panics      atomic.Uint64
	dropMu   sync.Mutex
	dropped  map[string]uint64

	metrics *metrics
	log     *logrus.Entry
	warn    *rate.Limiter
}

// NewDecoder creates a decoder with no device attached.
func NewDecoder(opts Options) *Decoder {
	if opts.Kind == "" {
		opts.Kind = reassembly.KindLatestWins
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	d := &Decoder{
		opts:     opts,
		clock:    opts.Clock,
		registry: reg,
		output:   framepool.NewOutputQueue(),
		bodies:   body.NewQueue(),
		audio:    audio.NewQueue(opts.AudioMaxFrames),
		dropped:  make(map[string]uint64),
		log:      monitoring.Component("decoder"),
		warn:     rate.NewLimiter(rate.Every(time.Second), 5),
	}
	d.machine = device.NewMachine(opts.LivePose, device.NewEventQueue(), d.bodies, d.audio)
	d.metrics = newMetrics(reg, d)
	return d
}

// Dispatch routes one message. Malformed messages are counted and dropped;
// a panic while handling a message is recovered so the stream continues.
func (d *Decoder) Dispatch(msg wire.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.metrics.panics.Inc()
			d.log.WithField("type", msg.Type).Errorf("recovered panic handling %d-byte message: %v\n%s",
				len(msg.Payload), r, debug.Stack())
		}
	}()

	d.received.Add(1)
	d.lastMessage.Store(d.clock.Now().UnixNano())
	if msg.Type.Known() {
		d.metrics.messages.WithLabelValues(msg.Type.String()).Inc()
	} else {
		d.metrics.messages.WithLabelValues("unknown").Inc()
	}

	need, err := wire.MinSize(msg.Type)
	if err != nil {
		d.drop(DropUnknownType, err)
		return
	}
	if len(msg.Payload) < need {
		d.drop(DropShort, fmt.Errorf("%s: %w: got %d bytes, need %d", msg.Type, wire.ErrShortPayload, len(msg.Payload), need))
		return
	}

	switch msg.Type {
	case wire.TypeConfig:
		d.handleConfig(msg.Payload)
	case wire.TypeDepthBlock:
		d.handleDepth(msg)
	case wire.TypeColor, wire.TypeBodyIndexBlock:
		d.handlePlane(msg)
	case wire.TypeAudioSamples:
		d.handleAudio(msg.Payload)
	case wire.TypeBodyData:
		d.handleBodies(msg.Payload)
	default:
		d.countDrop(DropUnsupported)
		d.log.Debugf("ignoring unsupported %s message", msg.Type)
	}
}

func (d *Decoder) handleConfig(p []byte) {
	cfg, err := wire.DecodeConfig(p)
	if err != nil {
		d.drop(DropDecode, err)
		return
	}
	intr := cfg.Intrinsics
	d.log.WithFields(logrus.Fields{
		"device":    cfg.DeviceType,
		"guid":      cfg.GUID,
		"live":      cfg.IsLive(),
		"rgbd":      cfg.HasRGBD(),
		"audio":     cfg.HasAudio(),
		"body":      cfg.HasBody(),
		"bodyIndex": cfg.HasBodyIndex(),
	}).Infof("device config %dx%d cx=%.1f cy=%.1f fx=%.1f fy=%.1f scale=%g rows/block=%d",
		intr.Width, intr.Height, intr.Cx, intr.Cy, intr.Fx, intr.Fy, intr.DepthScale, cfg.MaxRowsPerBlock)

	var proc reassembly.Processor
	if intr.Width > 0 && intr.Height > 0 {
		proc, err = reassembly.New(d.opts.Kind, reassembly.Options{
			Intrinsics:           intr,
			Output:               d.output,
			Pose:                 d.machine.ActivePose,
			PoolSize:             d.opts.PoolSize,
			StaleResyncThreshold: d.opts.StaleResyncThreshold,
			ScanInterval:         d.opts.ScanInterval,
		})
		if err != nil {
			d.drop(DropDecode, fmt.Errorf("create processor: %w", err))
			return
		}
	} else {
		d.log.Info("config carries no depth stream; frames will not be reassembled")
	}

	d.mu.Lock()
	old := d.proc
	d.proc = proc
	d.cfg = cfg
	d.lastConfig = d.clock.Now()
	d.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			d.log.Warnf("closing previous processor: %v", err)
		}
		if n := d.output.Drain(); n > 0 {
			d.log.Debugf("released %d frames from the previous configuration", n)
		}
	}

	d.metrics.configs.Inc()
	d.machine.Apply(cfg)
}

func (d *Decoder) current() (reassembly.Processor, *wire.DeviceConfig) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.proc, d.cfg
}

func (d *Decoder) handleDepth(msg wire.RawMessage) {
	proc, cfg := d.current()
	if proc == nil {
		d.countDrop(DropNoConfig)
		return
	}
	blk, err := wire.DecodeDepthBlock(msg.Payload, int(cfg.Intrinsics.Width), int(cfg.Intrinsics.Height))
	if err != nil {
		reason := DropShort
		if errors.Is(err, wire.ErrRowRange) {
			reason = DropRowRange
		}
		d.drop(reason, err)
		return
	}
	proc.HandleDepth(msg.Timestamp, blk)
}

// handlePlane keys both planes by the envelope timestamp, the same one
// their frame's depth blocks carry. Payload bytes 8..12 are image data.
func (d *Decoder) handlePlane(msg wire.RawMessage) {
	proc, _ := d.current()
	if proc == nil {
		d.countDrop(DropNoConfig)
		return
	}
	img, err := wire.DecodeImage(msg.Type, msg.Payload)
	if err != nil {
		d.drop(DropShort, err)
		return
	}
	if msg.Type == wire.TypeColor {
		proc.HandleColor(msg.Timestamp, img)
	} else {
		proc.HandleBodyIndex(msg.Timestamp, img)
	}
}

func (d *Decoder) handleAudio(p []byte) {
	if _, cfg := d.current(); cfg == nil {
		d.countDrop(DropNoConfig)
		return
	}
	f, err := wire.DecodeAudio(p)
	if err != nil {
		d.drop(DropShort, err)
		return
	}
	d.audio.Push(f)
}

func (d *Decoder) handleBodies(p []byte) {
	frames, err := wire.DecodeBodies(p)
	if err != nil {
		d.drop(DropShort, err)
		return
	}
	for _, f := range frames {
		d.bodies.Push(f)
	}
}

func (d *Decoder) countDrop(reason string) {
	d.dropMu.Lock()
	d.dropped[reason]++
	d.dropMu.Unlock()
	d.metrics.drops.WithLabelValues(reason).Inc()
}

func (d *Decoder) drop(reason string, err error) {
	d.countDrop(reason)
	if d.warn.Allow() {
		d.log.WithField("reason", reason).Warnf("dropping message: %v", err)
	}
}

// GetNewFrame returns the newest committed frame, or nil when nothing new
// has been committed. The caller owns the buffer until ReleaseFrame.
func (d *Decoder) GetNewFrame() *framepool.FrameBuffer {
	return d.output.Poll()
}

// ReleaseFrame hands a buffer from GetNewFrame back to its pool. Buffers
// from a previous configuration go back to their own pool.
func (d *Decoder) ReleaseFrame(b *framepool.FrameBuffer) {
	if b != nil {
		b.Release()
	}
}

// DrainBodies returns the body frames received since the last call.
func (d *Decoder) DrainBodies() []body.Frame { return d.bodies.Drain() }

// DrainAudio returns the audio frames received since the last call.
func (d *Decoder) DrainAudio() []audio.Frame { return d.audio.Drain() }

// NextEvent returns the oldest pending device event.
func (d *Decoder) NextEvent() (device.Event, bool) { return d.machine.Events().Next() }

func (d *Decoder) Machine() *device.Machine { return d.machine }

// Registry holds the decoder metrics.
func (d *Decoder) Registry() *prometheus.Registry { return d.registry }

// LastConfig returns the most recent device configuration, or nil.
func (d *Decoder) LastConfig() *wire.DeviceConfig {
	_, cfg := d.current()
	return cfg
}

// SinceConfig reports how long ago the last Config arrived. ok is false if
// none has.
func (d *Decoder) SinceConfig() (elapsed time.Duration, ok bool) {
	d.mu.RLock()
	last := d.lastConfig
	d.mu.RUnlock()
	if last.IsZero() {
		return 0, false
	}
	return d.clock.Since(last), true
}

// SinceMessage reports how long ago any message was dispatched. ok is false
// if none has.
func (d *Decoder) SinceMessage() (elapsed time.Duration, ok bool) {
	n := d.lastMessage.Load()
	if n == 0 {
		return 0, false
	}
	return d.clock.Since(time.Unix(0, n)), true
}

func (d *Decoder) processorStats() (reassembly.Stats, bool) {
	proc, _ := d.current()
	if proc == nil {
		return reassembly.Stats{}, false
	}
	return proc.Stats(), true
}

// Stats is a snapshot of decoder state for the admin page.
type Stats struct {
	State        string            `json:"state"`
	Session      uuid.UUID         `json:"session"`
	Device       string            `json:"device,omitempty"`
	Received     uint64            `json:"received"`
	Dropped      map[string]uint64 `json:"dropped"`
	Panics       uint64            `json:"panics"`
	OutputQueue  int               `json:"output_queue"`
	Collapsed    uint64            `json:"collapsed"`
	Bodies       int               `json:"bodies"`
	Audio        int               `json:"audio"`
	AudioDropped uint64            `json:"audio_dropped"`
	Events       int               `json:"events"`
	Processor    *reassembly.Stats `json:"processor,omitempty"`
}

func (d *Decoder) Stats() Stats {
	s := Stats{
		State:        d.machine.State().String(),
		Session:      d.machine.Session(),
		Received:     d.received.Load(),
		Panics:       d.panics.Load(),
		OutputQueue:  d.output.Len(),
		Collapsed:    d.output.Collapsed(),
		Bodies:       d.bodies.Len(),
		Audio:        d.audio.Len(),
		AudioDropped: d.audio.Dropped(),
		Events:       d.machine.Events().Len(),
		Dropped:      make(map[string]uint64),
	}
	if cfg := d.LastConfig(); cfg != nil {
		s.Device = cfg.DeviceType.String()
	}
	d.dropMu.Lock()
	for k, v := range d.dropped {
		s.Dropped[k] = v
	}
	d.dropMu.Unlock()
	if ps, ok := d.processorStats(); ok {
		s.Processor = &ps
	}
	return s
}

// Close stops the current processor and releases every queued frame.
// Frames held by the renderer stay valid until released.
func (d *Decoder) Close() error {
	d.mu.Lock()
	proc := d.proc
	d.proc = nil
	d.mu.Unlock()

	var err error
	if proc != nil {
		err = proc.Close()
	}
	d.output.Drain()
	return err
}
