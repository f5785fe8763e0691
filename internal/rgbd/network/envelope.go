// Package network carries RGB-D stream messages over UDP and replays them
// from packet captures. Both transports unwrap the same datagram envelope:
//
//	[0]     message type (u8)
//	[1..8]  sender timestamp (u64, little-endian)
//	[9..]   message payload
package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// EnvelopeHeaderSize is the number of bytes before the payload.
const EnvelopeHeaderSize = 9

// ErrShortDatagram is returned for datagrams smaller than the envelope.
var ErrShortDatagram = errors.New("datagram shorter than envelope header")

// DecodeEnvelope splits a datagram. The returned payload aliases b.
func DecodeEnvelope(b []byte) (wire.RawMessage, error) {
	if len(b) < EnvelopeHeaderSize {
		return wire.RawMessage{}, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(b))
	}
	return wire.RawMessage{
		Type:      wire.MessageType(b[0]),
		Timestamp: binary.LittleEndian.Uint64(b[1:]),
		Payload:   b[EnvelopeHeaderSize:],
	}, nil
}

// EncodeEnvelope builds a datagram for msg.
func EncodeEnvelope(msg wire.RawMessage) []byte {
	b := make([]byte, EnvelopeHeaderSize+len(msg.Payload))
	b[0] = byte(msg.Type)
	binary.LittleEndian.PutUint64(b[1:], msg.Timestamp)
	copy(b[EnvelopeHeaderSize:], msg.Payload)
	return b
}
