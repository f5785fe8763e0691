package wire

import (
	"encoding/binary"
	"math"

	"github.com/banshee-data/depth.stream/internal/rgbd/audio"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
)

// The encoders produce the layouts documented in decode.go. They are used by
// the synthetic sender and by tests; deviceID is written to byte 0.

func putF32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

// EncodeConfig serialises cfg into a full-size Config payload.
func EncodeConfig(deviceID uint8, cfg *DeviceConfig) []byte {
	p := make([]byte, ConfigFullSize)
	p[0] = deviceID
	p[1] = byte(cfg.DeviceType)
	p[2] = cfg.Flags
	binary.LittleEndian.PutUint16(p[4:], cfg.Intrinsics.Width)
	binary.LittleEndian.PutUint16(p[6:], cfg.Intrinsics.Height)
	binary.LittleEndian.PutUint16(p[8:], cfg.MaxRowsPerBlock)
	putF32(p, 12, cfg.Intrinsics.Cx)
	putF32(p, 16, cfg.Intrinsics.Cy)
	putF32(p, 20, cfg.Intrinsics.Fx)
	putF32(p, 24, cfg.Intrinsics.Fy)
	putF32(p, 28, cfg.Intrinsics.DepthScale)

	pos, q := cfg.Extrinsics.Position, cfg.Extrinsics.Orientation
	putF32(p, 32, float32(pos.X))
	putF32(p, 36, float32(pos.Y))
	putF32(p, 40, float32(pos.Z))
	putF32(p, 44, float32(q.Imag))
	putF32(p, 48, float32(q.Jmag))
	putF32(p, 52, float32(q.Kmag))
	putF32(p, 56, float32(q.Real))

	// Leave room for the terminating NUL.
	guid := cfg.GUID
	if len(guid) > ConfigGUIDMaxLen-1 {
		guid = guid[:ConfigGUIDMaxLen-1]
	}
	copy(p[ConfigGUIDOffset:], guid)
	return p
}

// EncodeDepthBlock serialises rows [startRow, endRow) of depth, which must
// hold (endRow-startRow)*width samples.
func EncodeDepthBlock(deviceID uint8, deltaT, startRow, endRow uint16, depth []uint16) []byte {
	p := make([]byte, BlockHeaderSize+len(depth)*bytesPerDepthSample)
	p[0] = deviceID
	binary.LittleEndian.PutUint16(p[2:], deltaT)
	binary.LittleEndian.PutUint16(p[4:], startRow)
	binary.LittleEndian.PutUint16(p[6:], endRow)
	for i, d := range depth {
		binary.LittleEndian.PutUint16(p[BlockHeaderSize+i*bytesPerDepthSample:], d)
	}
	return p
}

func encodeImage(deviceID uint8, img []byte) []byte {
	p := make([]byte, BlockHeaderSize+len(img))
	p[0] = deviceID
	copy(p[BlockHeaderSize:], img)
	return p
}

// EncodeColor wraps a compressed color plane.
func EncodeColor(deviceID uint8, jpeg []byte) []byte { return encodeImage(deviceID, jpeg) }

// EncodeBodyIndex wraps a compressed body-index plane.
func EncodeBodyIndex(deviceID uint8, jpeg []byte) []byte { return encodeImage(deviceID, jpeg) }

// EncodeAudio serialises f. The timestamp is written first and the samples
// after it, so sample 0 overwrites the upper half of the timestamp exactly
// as a real sender does.
func EncodeAudio(deviceID uint8, f audio.Frame) []byte {
	size := AudioHeaderSize + len(f.Samples)*AudioSampleSize
	if size < 16 {
		size = 16
	}
	p := make([]byte, size)
	p[0] = deviceID
	binary.LittleEndian.PutUint16(p[2:], f.Frequency)
	binary.LittleEndian.PutUint16(p[4:], f.Channels)
	binary.LittleEndian.PutUint16(p[6:], uint16(len(f.Samples)))
	binary.LittleEndian.PutUint64(p[8:], f.Timestamp)
	for i, s := range f.Samples {
		putF32(p, AudioHeaderSize+i*AudioSampleSize, s)
	}
	return p
}

// EncodeBodyData serialises bodies under one timestamp. Joint x is negated
// on the way out so that DecodeBodies restores the original value.
func EncodeBodyData(deviceID uint8, ts uint64, bodies []body.Frame) []byte {
	p := make([]byte, BodyHeaderSize+len(bodies)*BodyRecordSize)
	p[0] = deviceID
	binary.LittleEndian.PutUint16(p[2:], uint16(len(bodies)))
	binary.LittleEndian.PutUint64(p[8:], ts)
	for i := range bodies {
		f := &bodies[i]
		rec := p[BodyHeaderSize+i*BodyRecordSize:]
		binary.LittleEndian.PutUint32(rec[0:], f.TrackingID)
		rec[4] = byte(f.HandLeft)
		rec[5] = byte(f.HandRight)
		rec[7] = byte(f.LeanTrackingState)
		putF32(rec, 8, f.Lean[0])
		putF32(rec, 12, f.Lean[1])
		for j, jt := range f.Joints {
			off := bodyPositionsOffset + j*bytesPerJointPosition
			putF32(rec, off, float32(-jt.Position.X))
			putF32(rec, off+4, float32(jt.Position.Y))
			putF32(rec, off+8, float32(jt.Position.Z))
			rec[bodyStatesOffset+j] = byte(jt.State)
		}
	}
	return p
}
