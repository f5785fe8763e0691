// Package synth generates a synthetic RGB-D stream for demos and end-to-end
// testing of the receiver without a sensor attached.
package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"sync/atomic"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.stream/internal/rgbd/audio"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

const deviceID = 1

// Generator produces Config messages and per-frame message batches. It is
// not safe for concurrent NextFrame calls.
type Generator struct {
	frame atomic.Uint64

	// Configuration
	Width        int
	Height       int
	RowsPerBlock int
	FrameRate    float64
	Live         bool
	GUID         string
	Extrinsics   wire.Extrinsics

	Color       bool // send a JPEG color plane per frame
	Bodies      int  // bodies walking in a circle
	AudioRate   int  // Hz, 0 disables audio
	ShuffleRows bool // send depth blocks in random order

	rng *rand.Rand
}

// NewGenerator creates a live generator for a width x height depth image.
func NewGenerator(width, height int) *Generator {
	return &Generator{
		Width:        width,
		Height:       height,
		RowsPerBlock: 8,
		FrameRate:    30,
		Live:         true,
		GUID:         "synthetic",
		Extrinsics:   wire.Extrinsics{Orientation: quat.Number{Real: 1}},
		Color:        true,
		Bodies:       1,
		AudioRate:    16000,
		rng:          rand.New(rand.NewSource(1)),
	}
}

// Config describes the synthetic device.
func (g *Generator) Config() *wire.DeviceConfig {
	flags := wire.FlagRGBD
	if g.Live {
		flags |= wire.FlagLive
	}
	if g.Bodies > 0 {
		flags |= wire.FlagBody
	}
	if g.AudioRate > 0 {
		flags |= wire.FlagAudio
	}
	return &wire.DeviceConfig{
		DeviceType: wire.DeviceKinectV2,
		Flags:      flags,
		Intrinsics: wire.Intrinsics{
			Cx:         float32(g.Width) / 2,
			Cy:         float32(g.Height) / 2,
			Fx:         float32(g.Width),
			Fy:         float32(g.Width),
			DepthScale: 0.001,
			Width:      uint16(g.Width),
			Height:     uint16(g.Height),
		},
		Extrinsics:      g.Extrinsics,
		GUID:            g.GUID,
		MaxRowsPerBlock: uint16(g.RowsPerBlock),
	}
}

// ConfigMessage is the Config message for the synthetic device.
func (g *Generator) ConfigMessage() wire.RawMessage {
	return wire.RawMessage{Type: wire.TypeConfig, Payload: wire.EncodeConfig(deviceID, g.Config())}
}

// NextFrame returns every message for the next frame: color plane, depth
// blocks, body data and audio. Frame timestamps start at 1.
func (g *Generator) NextFrame() []wire.RawMessage {
	ts := g.frame.Add(1)
	t := float64(ts) / g.FrameRate

	var msgs []wire.RawMessage
	if g.Color {
		if img, err := g.colorPlane(t); err == nil {
			msgs = append(msgs, wire.RawMessage{Type: wire.TypeColor, Timestamp: ts, Payload: wire.EncodeColor(deviceID, img)})
		}
	}
	msgs = append(msgs, g.depthBlocks(ts, t)...)
	if g.Bodies > 0 {
		msgs = append(msgs, wire.RawMessage{Type: wire.TypeBodyData, Timestamp: ts, Payload: wire.EncodeBodyData(deviceID, ts, g.bodies(ts, t))})
	}
	if g.AudioRate > 0 {
		msgs = append(msgs, wire.RawMessage{Type: wire.TypeAudioSamples, Timestamp: ts, Payload: wire.EncodeAudio(deviceID, g.audio(ts, t))})
	}
	return msgs
}

// depthBlocks renders a sphere drifting across a back wall.
func (g *Generator) depthBlocks(ts uint64, t float64) []wire.RawMessage {
	cx := float64(g.Width) * (0.5 + 0.3*math.Sin(t))
	cy := float64(g.Height) / 2
	r := float64(g.Height) / 4

	depth := make([]uint16, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			d := 3000.0 // mm
			dx, dy := float64(x)-cx, float64(y)-cy
			if h := r*r - dx*dx - dy*dy; h > 0 {
				d = math.Max(1500-math.Sqrt(h)*10, 500)
			}
			depth[y*g.Width+x] = uint16(d)
		}
	}

	rows := g.RowsPerBlock
	if rows <= 0 {
		rows = g.Height
	}
	var msgs []wire.RawMessage
	for start := 0; start < g.Height; start += rows {
		end := start + rows
		if end > g.Height {
			end = g.Height
		}
		payload := wire.EncodeDepthBlock(deviceID, uint16(1000/g.FrameRate), uint16(start), uint16(end),
			depth[start*g.Width:end*g.Width])
		msgs = append(msgs, wire.RawMessage{Type: wire.TypeDepthBlock, Timestamp: ts, Payload: payload})
	}
	if g.ShuffleRows {
		g.rng.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })
	}
	return msgs
}

func (g *Generator) colorPlane(t float64) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	shift := uint8(int(t*60) % 256)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*255/g.Width) + shift,
				G: uint8(y * 255 / g.Height),
				B: 128,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bodies places each body on a circle two metres out, with a fixed
// vertical skeleton around its spine base.
func (g *Generator) bodies(ts uint64, t float64) []body.Frame {
	out := make([]body.Frame, g.Bodies)
	for i := range out {
		phase := t/4 + 2*math.Pi*float64(i)/float64(g.Bodies)
		base := r3.Vec{X: math.Cos(phase), Y: -0.5, Z: 2.5 + math.Sin(phase)}
		f := &out[i]
		f.Timestamp = ts
		f.TrackingID = uint32(i + 1)
		f.HandLeft, f.HandRight = body.HandOpen, body.HandClosed
		f.LeanTrackingState = body.Tracked
		for j := range f.Joints {
			f.Joints[j] = body.Joint{
				Position: r3.Add(base, r3.Vec{Y: 0.06 * float64(j)}),
				State:    body.Tracked,
			}
		}
	}
	return out
}

// audio is a 440Hz tone, one frame's worth of mono samples.
func (g *Generator) audio(ts uint64, t float64) audio.Frame {
	n := int(float64(g.AudioRate) / g.FrameRate)
	samples := make([]float32, n)
	for i := range samples {
		s := t + float64(i)/float64(g.AudioRate)
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*440*s))
	}
	return audio.Frame{
		Frequency: uint16(g.AudioRate),
		Channels:  1,
		Timestamp: ts,
		Samples:   samples,
	}
}

// Frames is the number of frames generated so far.
func (g *Generator) Frames() uint64 { return g.frame.Load() }
