package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/audio"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
	"github.com/banshee-data/depth.stream/internal/rgbd/device"
	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/reassembly"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
	"github.com/banshee-data/depth.stream/internal/timeutil"
)

func captureLogs(t *testing.T) *test.Hook {
	t.Helper()
	logger, hook := test.NewNullLogger()
	prev := monitoring.Logger()
	monitoring.UseLogger(logger)
	t.Cleanup(func() { monitoring.UseLogger(prev) })
	return hook
}

func entriesAt(hook *test.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func testConfig(w, h int, flags uint8) *wire.DeviceConfig {
	return &wire.DeviceConfig{
		DeviceType: wire.DeviceKinectV2,
		Flags:      flags,
		Intrinsics: wire.Intrinsics{
			Fx: 1, Fy: 1, DepthScale: 1,
			Width: uint16(w), Height: uint16(h),
		},
		MaxRowsPerBlock: 1,
		GUID:            "sensor-1",
	}
}

func configMsg(cfg *wire.DeviceConfig) wire.RawMessage {
	return wire.RawMessage{Type: wire.TypeConfig, Payload: wire.EncodeConfig(1, cfg)}
}

func depthMsg(ts uint64, width, start, end int, v uint16) wire.RawMessage {
	depth := make([]uint16, (end-start)*width)
	for i := range depth {
		depth[i] = v
	}
	return wire.RawMessage{
		Type:      wire.TypeDepthBlock,
		Timestamp: ts,
		Payload:   wire.EncodeDepthBlock(1, 33, uint16(start), uint16(end), depth),
	}
}

// sendFrame dispatches one frame as single-row blocks.
func sendFrame(d *Decoder, ts uint64, w, h int) {
	for r := 0; r < h; r++ {
		d.Dispatch(depthMsg(ts, w, r, r+1, 1000))
	}
}

func newTestDecoder(t *testing.T, opts Options) *Decoder {
	t.Helper()
	d := NewDecoder(opts)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDecoder_DropsBeforeConfig(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})

	d.Dispatch(depthMsg(1, 4, 0, 1, 1))
	d.Dispatch(wire.RawMessage{Type: wire.TypeColor, Timestamp: 1, Payload: wire.EncodeColor(1, []byte("jpeg"))})
	d.Dispatch(wire.RawMessage{Type: wire.TypeAudioSamples, Payload: wire.EncodeAudio(1, audio.Frame{Frequency: 16000, Channels: 1})})
	d.Dispatch(wire.RawMessage{Type: wire.MessageType(0x7f), Payload: make([]byte, 32)})
	d.Dispatch(wire.RawMessage{Type: wire.TypeDepthBlock, Payload: []byte{1, 2, 3}})
	d.Dispatch(wire.RawMessage{Type: wire.TypeConfig, Payload: make([]byte, 10)})
	d.Dispatch(wire.RawMessage{Type: wire.TypeJPEG, Payload: make([]byte, wire.BlockHeaderSize)})

	s := d.Stats()
	assert.Equal(t, uint64(7), s.Received)
	assert.Equal(t, map[string]uint64{
		DropNoConfig:    3,
		DropUnknownType: 1,
		DropShort:       2,
		DropUnsupported: 1,
	}, s.Dropped)
	assert.Equal(t, "idle", s.State)
	assert.Nil(t, s.Processor)
	assert.Nil(t, d.GetNewFrame())
	assert.Empty(t, d.DrainAudio())

	assert.Equal(t, 3.0, promtest.ToFloat64(d.metrics.drops.WithLabelValues(DropNoConfig)))
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.messages.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, promtest.ToFloat64(d.metrics.messages.WithLabelValues("depth")))

	_, ok := d.SinceConfig()
	assert.False(t, ok)
}

func TestDecoder_LiveFrame(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})

	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagRGBD|wire.FlagLive)))
	require.Equal(t, device.Live, d.Machine().State())

	d.Dispatch(wire.RawMessage{Type: wire.TypeColor, Timestamp: 5, Payload: wire.EncodeColor(1, []byte("rgb"))})
	sendFrame(d, 5, 4, 4)

	f := d.GetNewFrame()
	require.NotNil(t, f)
	assert.Equal(t, uint64(5), f.Timestamp)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, []byte("rgb"), f.Color)
	assert.Equal(t, framepool.Held, f.State())
	for i, v := range f.Depth {
		assert.Equal(t, uint16(1000), v, "depth sample %d", i)
	}
	assert.Nil(t, d.GetNewFrame(), "nothing new since the last poll")
	d.ReleaseFrame(f)
	d.ReleaseFrame(nil)
	assert.Equal(t, framepool.Free, f.State())

	ev, ok := d.NextEvent()
	require.True(t, ok)
	assert.Equal(t, device.ClearBodies, ev.Kind)
	ev, ok = d.NextEvent()
	require.True(t, ok)
	assert.Equal(t, device.StateChanged, ev.Kind)
	assert.Equal(t, device.Live, ev.To)
	_, ok = d.NextEvent()
	assert.False(t, ok)

	s := d.Stats()
	require.NotNil(t, s.Processor)
	assert.Equal(t, reassembly.KindLatestWins, s.Processor.Kind)
	assert.Equal(t, uint64(5), s.Processor.Watermark)
	assert.Equal(t, uint64(1), s.Processor.Committed)
	assert.Equal(t, "live", s.State)
	assert.NotEqual(t, uuid.Nil, s.Session)
	assert.Equal(t, wire.DeviceKinectV2.String(), s.Device)
}

func TestDecoder_RowRangeAndShortDepth(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})
	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagLive)))

	d.Dispatch(depthMsg(1, 4, 3, 5, 1))

	short := depthMsg(1, 4, 0, 2, 1)
	short.Payload = short.Payload[:wire.BlockHeaderSize+4*2]
	d.Dispatch(short)

	s := d.Stats()
	assert.Equal(t, uint64(1), s.Dropped[DropRowRange])
	assert.Equal(t, uint64(1), s.Dropped[DropShort])
	assert.Equal(t, uint64(0), s.Processor.Committed)
}

func TestDecoder_AudioAndBodies(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{AudioMaxFrames: 2})
	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagLive|wire.FlagAudio|wire.FlagBody)))

	for i := 0; i < 3; i++ {
		d.Dispatch(wire.RawMessage{
			Type:    wire.TypeAudioSamples,
			Payload: wire.EncodeAudio(1, audio.Frame{Frequency: 48000, Channels: 2, Samples: []float32{0.25, -0.5}}),
		})
	}
	frames := d.DrainAudio()
	require.Len(t, frames, 2, "bounded to the newest two")
	assert.Equal(t, uint16(48000), frames[0].Frequency)
	assert.Equal(t, []float32{0.25, -0.5}, frames[1].Samples)
	assert.Equal(t, uint64(1), d.Stats().AudioDropped)

	d.Dispatch(wire.RawMessage{
		Type:    wire.TypeBodyData,
		Payload: wire.EncodeBodyData(1, 99, []body.Frame{{TrackingID: 7}, {TrackingID: 8}}),
	})
	bodies := d.DrainBodies()
	require.Len(t, bodies, 2)
	assert.Equal(t, uint32(7), bodies[0].TrackingID)
	assert.Equal(t, uint32(8), bodies[1].TrackingID)
	assert.Equal(t, uint64(99), bodies[1].Timestamp)
	assert.Empty(t, d.DrainBodies())
}

func TestDecoder_ConfigClearsBodies(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})

	d.Dispatch(wire.RawMessage{
		Type:    wire.TypeBodyData,
		Payload: wire.EncodeBodyData(1, 1, []body.Frame{{TrackingID: 1}}),
	})
	assert.Equal(t, 1, d.Stats().Bodies)

	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagLive)))
	assert.Empty(t, d.DrainBodies())
}

func TestDecoder_ReconfigureReplacesProcessor(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})

	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagLive)))
	sendFrame(d, 5, 4, 4)
	held := d.GetNewFrame()
	require.NotNil(t, held)
	sendFrame(d, 6, 4, 4)
	require.Equal(t, 1, d.Stats().OutputQueue)

	replay := testConfig(8, 2, 0)
	replay.Extrinsics = wire.Extrinsics{
		Position:    r3.Vec{X: 1, Y: 2, Z: 3},
		Orientation: quat.Number{Real: 1},
	}
	d.Dispatch(configMsg(replay))

	assert.Equal(t, device.Replaying, d.Machine().State())
	assert.Equal(t, 0, d.Stats().OutputQueue, "frames of the old configuration are released")

	// The held frame belongs to the old pool and stays valid.
	assert.Equal(t, 4, held.Width)
	assert.Equal(t, framepool.Held, held.State())
	d.ReleaseFrame(held)
	assert.Equal(t, framepool.Free, held.State())

	// A fresh processor starts with a zero watermark.
	sendFrame(d, 1, 8, 2)
	f := d.GetNewFrame()
	require.NotNil(t, f)
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, uint64(1), f.Timestamp)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, f.CameraPose.Position, "recorded pose snapshotted on commit")
	d.ReleaseFrame(f)

	var kinds []device.EventKind
	for {
		ev, ok := d.NextEvent()
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []device.EventKind{
		device.ClearBodies, device.StateChanged,
		device.ClearBodies, device.ReplayStarted,
	}, kinds)
}

func TestDecoder_LivePoseSnapshot(t *testing.T) {
	captureLogs(t)
	live := device.NewLivePose()
	d := newTestDecoder(t, Options{LivePose: live})
	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))

	pose := device.Pose{Position: r3.Vec{Z: 1.5}, Orientation: quat.Number{Real: 1}}
	live.Set(pose)
	sendFrame(d, 3, 2, 2)

	f := d.GetNewFrame()
	require.NotNil(t, f)
	assert.Equal(t, pose, f.CameraPose)
	d.ReleaseFrame(f)
}

func TestDecoder_NoDepthStream(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{})
	d.Dispatch(configMsg(testConfig(0, 0, wire.FlagLive|wire.FlagAudio)))

	assert.Equal(t, device.Live, d.Machine().State())
	assert.NotNil(t, d.LastConfig())
	d.Dispatch(depthMsg(1, 4, 0, 1, 1))
	assert.Equal(t, uint64(1), d.Stats().Dropped[DropNoConfig])
}

func TestDecoder_SequenceComplete(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{Kind: reassembly.KindSequenceComplete, PoolSize: 4})
	d.Dispatch(configMsg(testConfig(4, 4, wire.FlagLive)))

	// Out-of-order halves.
	d.Dispatch(depthMsg(7, 4, 2, 4, 10))
	d.Dispatch(depthMsg(7, 4, 0, 2, 10))

	var f *framepool.FrameBuffer
	require.Eventually(t, func() bool {
		f = d.GetNewFrame()
		return f != nil
	}, time.Second, time.Millisecond)
	assert.True(t, f.Complete)
	assert.Equal(t, uint64(7), f.Timestamp)
	d.ReleaseFrame(f)

	assert.Equal(t, reassembly.KindSequenceComplete, d.Stats().Processor.Kind)
}

func TestDecoder_PlanesUseEnvelopeTimestamp(t *testing.T) {
	captureLogs(t)
	d := newTestDecoder(t, Options{Kind: reassembly.KindSequenceComplete})
	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))

	// Leading bytes of a JPEG, where a u32 at payload offset 8 would sit.
	img := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F'}
	d.Dispatch(wire.RawMessage{Type: wire.TypeBodyIndexBlock, Timestamp: 5, Payload: wire.EncodeBodyIndex(1, img)})
	d.Dispatch(wire.RawMessage{Type: wire.TypeColor, Timestamp: 5, Payload: wire.EncodeColor(1, []byte("color"))})
	d.Dispatch(depthMsg(5, 2, 0, 2, 9))

	var f *framepool.FrameBuffer
	require.Eventually(t, func() bool {
		f = d.GetNewFrame()
		return f != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(5), f.Timestamp)
	assert.Equal(t, img, f.BodyIndex)
	assert.Equal(t, []byte("color"), f.Color)
	d.ReleaseFrame(f)
	assert.Zero(t, d.Stats().Processor.PlaneDropped)
}

func TestDecoder_SinceConfig(t *testing.T) {
	captureLogs(t)
	mc := timeutil.NewMockClock(time.Unix(1700000000, 0))
	d := newTestDecoder(t, Options{Clock: mc})

	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))
	mc.Advance(3 * time.Second)

	since, ok := d.SinceConfig()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, since)
}

func TestDecoder_SinceMessage(t *testing.T) {
	captureLogs(t)
	mc := timeutil.NewMockClock(time.Unix(1700000000, 0))
	d := newTestDecoder(t, Options{Clock: mc})

	_, ok := d.SinceMessage()
	assert.False(t, ok)

	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))
	mc.Advance(3 * time.Second)
	d.Dispatch(depthMsg(1, 2, 0, 2, 7))
	mc.Advance(time.Second)

	since, ok := d.SinceMessage()
	require.True(t, ok)
	assert.Equal(t, time.Second, since, "any message counts, not just Config")

	// Malformed messages still show the sender is alive.
	d.Dispatch(wire.RawMessage{Type: wire.MessageType(0x7f)})
	since, _ = d.SinceMessage()
	assert.Zero(t, since)

	since, _ = d.SinceConfig()
	assert.Equal(t, 4*time.Second, since)
}

type panicProcessor struct{}

func (panicProcessor) HandleDepth(uint64, wire.DepthBlock) { panic("boom") }
func (panicProcessor) HandleColor(uint64, []byte)          {}
func (panicProcessor) HandleBodyIndex(uint64, []byte)      {}
func (panicProcessor) Stats() reassembly.Stats             { return reassembly.Stats{} }
func (panicProcessor) Close() error                        { return nil }

func TestDecoder_RecoversPanics(t *testing.T) {
	hook := captureLogs(t)
	d := newTestDecoder(t, Options{})

	d.mu.Lock()
	d.proc = panicProcessor{}
	d.cfg = testConfig(4, 4, wire.FlagLive)
	d.mu.Unlock()

	require.NotPanics(t, func() { d.Dispatch(depthMsg(1, 4, 0, 1, 1)) })
	assert.Equal(t, uint64(1), d.Stats().Panics)
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.panics))

	errs := entriesAt(hook, logrus.ErrorLevel)
	require.Len(t, errs, 1)
	assert.True(t, strings.Contains(errs[0], "boom"), errs[0])

	// The decoder keeps going.
	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))
	sendFrame(d, 1, 2, 2)
	f := d.GetNewFrame()
	require.NotNil(t, f)
	d.ReleaseFrame(f)
}

func TestDecoder_DropWarningsThrottled(t *testing.T) {
	hook := captureLogs(t)
	d := newTestDecoder(t, Options{})

	for i := 0; i < 100; i++ {
		d.Dispatch(wire.RawMessage{Type: wire.MessageType(0x7f)})
	}
	assert.Equal(t, uint64(100), d.Stats().Dropped[DropUnknownType])
	assert.LessOrEqual(t, len(entriesAt(hook, logrus.WarnLevel)), 6)
}

func TestDecoder_Close(t *testing.T) {
	captureLogs(t)
	d := NewDecoder(Options{})
	d.Dispatch(configMsg(testConfig(2, 2, wire.FlagLive)))
	sendFrame(d, 1, 2, 2)
	require.Equal(t, 1, d.Stats().OutputQueue)

	require.NoError(t, d.Close())
	assert.Equal(t, 0, d.Stats().OutputQueue)
	assert.Nil(t, d.Stats().Processor)
	require.NoError(t, d.Close())
}
