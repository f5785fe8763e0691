package network

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// Command is a JSON control message sent back to the streaming service.
type Command struct {
	Cmd string `json:"cmd"`
	Val string `json:"val,omitempty"`

	// record / playback
	Loop      *bool   `json:"loop,omitempty"`
	MaxFrames *int    `json:"maxframes,omitempty"`
	File      string  `json:"file,omitempty"`
	Start     *uint64 `json:"start,omitempty"`
	End       *uint64 `json:"end,omitempty"`

	// extrinsics
	Position    *[3]float64 `json:"position,omitempty"`
	Orientation *[4]float64 `json:"orientation,omitempty"` // x, y, z, w
}

// Command names and values understood by the streaming service.
const (
	CmdApplication = "application"
	CmdRecord      = "record"
	CmdConfig      = "config"
	CmdDevice      = "device"
	CmdExtrinsics  = "extrinsics"

	ValStop          = "stop"
	ValStartRecord   = "startrec"
	ValStopRecord    = "stoprec"
	ValStartPlayback = "startplay"
	ValStopPlayback  = "stopplay"
	ValRequest       = "request"
	ValEnable        = "enable"
	ValDisable       = "disable"

	DefaultRecordingFile = "default"
)

// Encode marshals c to its wire form.
func (c Command) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Cmd, err)
	}
	return b, nil
}

// StopApplication asks the service to exit.
func StopApplication() Command {
	return Command{Cmd: CmdApplication, Val: ValStop}
}

// StartRecording records to file, stopping after maxFrames (-1 = unlimited).
func StartRecording(file string, maxFrames int) Command {
	if file == "" {
		file = DefaultRecordingFile
	}
	return Command{Cmd: CmdRecord, Val: ValStartRecord, File: file, MaxFrames: &maxFrames}
}

func StopRecording() Command {
	return Command{Cmd: CmdRecord, Val: ValStopRecord}
}

// PlaybackSlice bounds a replay to [Start, End] in recording timestamps.
type PlaybackSlice struct {
	Start, End uint64
}

// StartPlayback replays file, optionally looping and optionally limited to
// a slice of the recording.
func StartPlayback(file string, loop bool, slice *PlaybackSlice) Command {
	if file == "" {
		file = DefaultRecordingFile
	}
	c := Command{Cmd: CmdRecord, Val: ValStartPlayback, File: file, Loop: &loop}
	if slice != nil {
		start, end := slice.Start, slice.End
		c.Start, c.End = &start, &end
	}
	return c
}

func StopPlayback() Command {
	return Command{Cmd: CmdRecord, Val: ValStopPlayback}
}

// RequestConfig asks the service to resend its Config message.
func RequestConfig() Command {
	return Command{Cmd: CmdConfig, Val: ValRequest}
}

// SetDeviceEnabled turns the sensor on or off.
func SetDeviceEnabled(on bool) Command {
	if on {
		return Command{Cmd: CmdDevice, Val: ValEnable}
	}
	return Command{Cmd: CmdDevice, Val: ValDisable}
}

// SetExtrinsics updates the camera pose stored by the service.
func SetExtrinsics(e wire.Extrinsics) Command {
	pos := [3]float64{e.Position.X, e.Position.Y, e.Position.Z}
	rot := [4]float64{e.Orientation.Imag, e.Orientation.Jmag, e.Orientation.Kmag, e.Orientation.Real}
	return Command{Cmd: CmdExtrinsics, Position: &pos, Orientation: &rot}
}

// MustEncode is for commands built from constants, which cannot fail to
// marshal.
func MustEncode(c Command) []byte {
	b, err := c.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeCommand parses a command received from the other side.
func DecodeCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}
