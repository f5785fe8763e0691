package wire

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MessageType is the one-byte discriminator carried alongside every payload.
type MessageType byte

// Message type tags as sent by the depth streaming service.
const (
	TypeConfig         MessageType = 0x01
	TypeAudioSamples   MessageType = 0x11
	TypeDepthBlock     MessageType = 0x12
	TypeBodyData       MessageType = 0x13
	TypeColor          MessageType = 0x21
	TypeColorBlock     MessageType = 0x22 // recognised, not reassembled
	TypeBodyIndexBlock MessageType = 0x52
	TypeJPEG           MessageType = 0x61 // recognised, not reassembled
)

func (t MessageType) String() string {
	switch t {
	case TypeConfig:
		return "config"
	case TypeAudioSamples:
		return "audio"
	case TypeDepthBlock:
		return "depth"
	case TypeBodyData:
		return "body"
	case TypeColor:
		return "color"
	case TypeColorBlock:
		return "color-block"
	case TypeBodyIndexBlock:
		return "body-index"
	case TypeJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Known reports whether t is a tag this package understands.
func (t MessageType) Known() bool {
	switch t {
	case TypeConfig, TypeAudioSamples, TypeDepthBlock, TypeBodyData,
		TypeColor, TypeColorBlock, TypeBodyIndexBlock, TypeJPEG:
		return true
	}
	return false
}

// RawMessage is one demultiplexed datagram. Payload is only valid for the
// duration of a single dispatch; anything retained must be copied.
type RawMessage struct {
	Type      MessageType
	Payload   []byte
	Timestamp uint64 // arrival/sender timestamp, monotonically increasing per frame
}

// Sentinel errors returned (wrapped) by the decode functions.
var (
	ErrShortPayload = errors.New("payload too short")
	ErrUnknownType  = errors.New("unknown message type")
	ErrRowRange     = errors.New("invalid row range")
)

// DeviceType identifies the sensor model behind a stream.
type DeviceType uint8

const (
	DeviceKinectV1 DeviceType = 0x01
	DeviceKinectV2 DeviceType = 0x02
	DeviceSR200    DeviceType = 0x03
)

func (d DeviceType) String() string {
	switch d {
	case DeviceKinectV1:
		return "kinect-v1"
	case DeviceKinectV2:
		return "kinect-v2"
	case DeviceSR200:
		return "sr200"
	default:
		return fmt.Sprintf("device(0x%02x)", uint8(d))
	}
}

// Capability flag bits carried in the Config message.
const (
	FlagRGBD      uint8 = 1 << 0
	FlagAudio     uint8 = 1 << 1
	FlagLive      uint8 = 1 << 2
	FlagBody      uint8 = 1 << 3
	FlagHD        uint8 = 1 << 4
	FlagBodyIndex uint8 = 1 << 5
)

// Intrinsics are the pinhole projection parameters of the depth camera.
type Intrinsics struct {
	Cx, Cy     float32
	Fx, Fy     float32
	DepthScale float32 // metres per depth unit
	Width      uint16
	Height     uint16
}

// Extrinsics is the camera pose reported by the device.
type Extrinsics struct {
	Position    r3.Vec
	Orientation quat.Number // Real = w, Imag/Jmag/Kmag = x/y/z
}

// DeviceConfig is the parsed Config message. It is immutable once parsed.
type DeviceConfig struct {
	DeviceType      DeviceType
	Flags           uint8
	Intrinsics      Intrinsics
	Extrinsics      Extrinsics
	GUID            string
	MaxRowsPerBlock uint16
}

func (c *DeviceConfig) HasRGBD() bool      { return c.Flags&FlagRGBD != 0 }
func (c *DeviceConfig) HasAudio() bool     { return c.Flags&FlagAudio != 0 }
func (c *DeviceConfig) IsLive() bool       { return c.Flags&FlagLive != 0 }
func (c *DeviceConfig) HasBody() bool      { return c.Flags&FlagBody != 0 }
func (c *DeviceConfig) HasHD() bool        { return c.Flags&FlagHD != 0 }
func (c *DeviceConfig) HasBodyIndex() bool { return c.Flags&FlagBodyIndex != 0 }

// DepthBlock is a contiguous run of depth rows [StartRow, EndRow).
type DepthBlock struct {
	DeltaT   uint16
	StartRow uint16
	EndRow   uint16
	Samples  []byte // row-major little-endian uint16, aliases the payload
}

// Rows returns the number of rows carried by the block.
func (b DepthBlock) Rows() int { return int(b.EndRow) - int(b.StartRow) }
