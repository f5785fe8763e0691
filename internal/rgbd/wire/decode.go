package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.stream/internal/rgbd/audio"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
)

/*
RGB-D stream payload layouts (all multi-byte fields little-endian)

Byte 0 of every payload is the sending device ID; the type tag travels
outside the payload (see RawMessage).

CONFIG (>= 60 bytes, GUID optional up to byte 95)
├── 1      device type (u8)
├── 2      capability flags (u8): bit0 RGBD, bit1 audio, bit2 live, bit3 body, bit4 HD, bit5 body-index
├── 4/6/8  width, height, max rows per block (u16)
├── 12..28 Cx, Cy, Fx, Fy, depth scale (f32)
├── 32..56 position x,y,z + orientation x,y,z,w (f32)
└── 63     device GUID, NUL-terminated ASCII, at most 32 bytes

DEPTH BLOCK (8-byte header + rows × width × 2)
├── 2      delta-t (u16)
├── 4/6    start row, end row (u16), half-open
└── 8      depth samples, row-major u16

COLOR / BODY-INDEX BLOCK (8-byte header + JPEG)
└── 8      compressed plane, remainder of payload

AUDIO SAMPLES (12-byte header + count × 4)
├── 2/4/6  frequency, channels, sample count (u16)
├── 8      timestamp (u64); its upper half shares bytes 12..15 with sample 0
└── 12     samples (f32)

BODY DATA (16-byte header + count × 344)
├── 2      body count (u16)
├── 8      timestamp (u64)
└── 16     per-body records, 344 bytes each:
           0 tracking ID (u32), 4/5 hand states, 7 lean tracking state,
           8/12 lean x,y (f32), 16 joint positions 25×3 f32 (x negated),
           319 joint tracking states 25×u8
*/

const (
	ConfigHeaderSize = 60 // through orientation w
	ConfigGUIDOffset = 63
	ConfigGUIDMaxLen = 32
	ConfigFullSize   = ConfigGUIDOffset + ConfigGUIDMaxLen

	BlockHeaderSize = 8 // depth, color and body-index payloads

	AudioHeaderSize = 12
	AudioSampleSize = 4

	BodyHeaderSize        = 16
	BodyRecordSize        = 344
	bodyPositionsOffset   = 16
	bodyStatesOffset      = bodyPositionsOffset + 3*4*int(body.JointCount) + 3
	bytesPerDepthSample   = 2
	bytesPerJointPosition = 3 * 4
)

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func shortErr(t MessageType, got, want int) error {
	return fmt.Errorf("%s: %w: got %d bytes, need %d", t, ErrShortPayload, got, want)
}

// DecodeConfig parses a Config payload.
func DecodeConfig(p []byte) (*DeviceConfig, error) {
	if len(p) < ConfigHeaderSize {
		return nil, shortErr(TypeConfig, len(p), ConfigHeaderSize)
	}

	cfg := &DeviceConfig{
		DeviceType: DeviceType(p[1]),
		Flags:      p[2],
		Intrinsics: Intrinsics{
			Width:      binary.LittleEndian.Uint16(p[4:]),
			Height:     binary.LittleEndian.Uint16(p[6:]),
			Cx:         f32(p, 12),
			Cy:         f32(p, 16),
			Fx:         f32(p, 20),
			Fy:         f32(p, 24),
			DepthScale: f32(p, 28),
		},
		MaxRowsPerBlock: binary.LittleEndian.Uint16(p[8:]),
		Extrinsics: Extrinsics{
			Position: r3.Vec{
				X: float64(f32(p, 32)),
				Y: float64(f32(p, 36)),
				Z: float64(f32(p, 40)),
			},
			Orientation: quat.Number{
				Imag: float64(f32(p, 44)),
				Jmag: float64(f32(p, 48)),
				Kmag: float64(f32(p, 52)),
				Real: float64(f32(p, 56)),
			},
		},
	}

	if len(p) > ConfigGUIDOffset {
		end := ConfigGUIDOffset + ConfigGUIDMaxLen
		if end > len(p) {
			end = len(p)
		}
		guid := p[ConfigGUIDOffset:end]
		for i, c := range guid {
			if c == 0 {
				guid = guid[:i]
				break
			}
		}
		cfg.GUID = string(guid)
	}

	return cfg, nil
}

// DecodeDepthBlock parses a DepthBlock payload for an image of the given
// width and height. The row range is checked against height and the sample
// bytes against the payload length, so the result is always safe to copy.
func DecodeDepthBlock(p []byte, width, height int) (DepthBlock, error) {
	if len(p) < BlockHeaderSize {
		return DepthBlock{}, shortErr(TypeDepthBlock, len(p), BlockHeaderSize)
	}
	b := DepthBlock{
		DeltaT:   binary.LittleEndian.Uint16(p[2:]),
		StartRow: binary.LittleEndian.Uint16(p[4:]),
		EndRow:   binary.LittleEndian.Uint16(p[6:]),
	}
	if b.StartRow >= b.EndRow || int(b.EndRow) > height {
		return DepthBlock{}, fmt.Errorf("%s: %w: [%d,%d) for height %d",
			TypeDepthBlock, ErrRowRange, b.StartRow, b.EndRow, height)
	}
	need := BlockHeaderSize + b.Rows()*width*bytesPerDepthSample
	if len(p) < need {
		return DepthBlock{}, shortErr(TypeDepthBlock, len(p), need)
	}
	b.Samples = p[BlockHeaderSize:need]
	return b, nil
}

// DecodeImage returns the compressed plane carried by a Color or
// BodyIndexBlock payload. The slice aliases p.
func DecodeImage(t MessageType, p []byte) ([]byte, error) {
	if len(p) < BlockHeaderSize {
		return nil, shortErr(t, len(p), BlockHeaderSize)
	}
	return p[BlockHeaderSize:], nil
}

// DecodeAudio parses an AudioSamples payload.
func DecodeAudio(p []byte) (audio.Frame, error) {
	if len(p) < AudioHeaderSize {
		return audio.Frame{}, shortErr(TypeAudioSamples, len(p), AudioHeaderSize)
	}
	f := audio.Frame{
		Frequency: binary.LittleEndian.Uint16(p[2:]),
		Channels:  binary.LittleEndian.Uint16(p[4:]),
	}
	n := int(binary.LittleEndian.Uint16(p[6:]))
	need := AudioHeaderSize + n*AudioSampleSize
	if len(p) < need {
		return audio.Frame{}, shortErr(TypeAudioSamples, len(p), need)
	}
	if len(p) >= 16 {
		f.Timestamp = binary.LittleEndian.Uint64(p[8:])
	} else {
		f.Timestamp = uint64(binary.LittleEndian.Uint32(p[8:]))
	}
	f.Samples = make([]float32, n)
	for i := range f.Samples {
		f.Samples[i] = f32(p, AudioHeaderSize+i*AudioSampleSize)
	}
	return f, nil
}

// DecodeBodies parses a BodyData payload into one frame per body record.
func DecodeBodies(p []byte) ([]body.Frame, error) {
	if len(p) < BodyHeaderSize {
		return nil, shortErr(TypeBodyData, len(p), BodyHeaderSize)
	}
	n := int(binary.LittleEndian.Uint16(p[2:]))
	ts := binary.LittleEndian.Uint64(p[8:])
	need := BodyHeaderSize + n*BodyRecordSize
	if len(p) < need {
		return nil, shortErr(TypeBodyData, len(p), need)
	}

	frames := make([]body.Frame, n)
	for i := range frames {
		rec := p[BodyHeaderSize+i*BodyRecordSize:]
		f := &frames[i]
		f.Timestamp = ts
		f.TrackingID = binary.LittleEndian.Uint32(rec[0:])
		f.HandLeft = body.HandState(rec[4])
		f.HandRight = body.HandState(rec[5])
		f.LeanTrackingState = body.TrackingState(rec[7])
		f.Lean = [2]float32{f32(rec, 8), f32(rec, 12)}
		for j := 0; j < int(body.JointCount); j++ {
			off := bodyPositionsOffset + j*bytesPerJointPosition
			f.Joints[j] = body.Joint{
				Position: r3.Vec{
					X: -float64(f32(rec, off)),
					Y: float64(f32(rec, off+4)),
					Z: float64(f32(rec, off+8)),
				},
				State: body.TrackingState(rec[bodyStatesOffset+j]),
			}
		}
	}
	return frames, nil
}

// MinSize returns the smallest payload that can hold the fixed header of t.
func MinSize(t MessageType) (int, error) {
	switch t {
	case TypeConfig:
		return ConfigHeaderSize, nil
	case TypeDepthBlock, TypeColor, TypeColorBlock, TypeBodyIndexBlock, TypeJPEG:
		return BlockHeaderSize, nil
	case TypeAudioSamples:
		return AudioHeaderSize, nil
	case TypeBodyData:
		return BodyHeaderSize, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(t))
	}
}
