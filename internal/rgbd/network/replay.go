package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// pcapng section header block type, stored in the first four bytes.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// ReplayConfig configures a ReplayTransport.
type ReplayConfig struct {
	// Port keeps only UDP datagrams sent to this destination port; 0 keeps
	// every UDP datagram.
	Port uint16

	// Pace delays each message to reproduce the capture's inter-packet
	// timing. Without it the capture is replayed as fast as possible.
	Pace bool
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// ReplayTransport replays a pcap or pcapng capture of the UDP stream.
type ReplayTransport struct {
	src    packetReader
	closer io.Closer
	cfg    ReplayConfig

	firstCapture time.Time
	firstWall    time.Time

	packets  int
	messages int
	log      *logrus.Entry
}

// OpenReplay opens a capture file.
func OpenReplay(path string, cfg ReplayConfig) (*ReplayTransport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	t, err := NewReplay(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.closer = f
	t.log.Infof("replaying capture %s (udp port filter %d)", path, cfg.Port)
	return t, nil
}

// NewReplay reads a capture from r, detecting pcap or pcapng by its magic.
func NewReplay(r io.Reader, cfg ReplayConfig) (*ReplayTransport, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetReader
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse capture: %w", err)
	}
	return &ReplayTransport{
		src: src,
		cfg: cfg,
		log: monitoring.Component("replay"),
	}, nil
}

// Receive returns the next enveloped message in the capture, or io.EOF once
// the capture is exhausted.
func (t *ReplayTransport) Receive(ctx context.Context) (wire.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return wire.RawMessage{}, err
		}
		data, ci, err := t.src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			t.log.Infof("capture complete: %d packets, %d messages", t.packets, t.messages)
			return wire.RawMessage{}, io.EOF
		}
		if err != nil {
			return wire.RawMessage{}, fmt.Errorf("read capture: %w", err)
		}
		t.packets++

		packet := gopacket.NewPacket(data, t.src.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if t.cfg.Port != 0 && uint16(udp.DstPort) != t.cfg.Port {
			continue
		}
		msg, err := DecodeEnvelope(udp.Payload)
		if err != nil {
			t.log.Debugf("skipping packet %d: %v", t.packets, err)
			continue
		}

		if t.cfg.Pace {
			if err := t.pace(ctx, ci.Timestamp); err != nil {
				return wire.RawMessage{}, err
			}
		}
		t.messages++
		return msg, nil
	}
}

func (t *ReplayTransport) pace(ctx context.Context, captured time.Time) error {
	if t.firstCapture.IsZero() {
		t.firstCapture, t.firstWall = captured, time.Now()
		return nil
	}
	wait := time.Until(t.firstWall.Add(captured.Sub(t.firstCapture)))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send discards outbound commands; a capture has no peer to answer.
func (t *ReplayTransport) Send(_ context.Context, b []byte) error {
	t.log.Debugf("replay: ignoring %d-byte command", len(b))
	return nil
}

// Messages is the number of messages returned so far.
func (t *ReplayTransport) Messages() int { return t.messages }

func (t *ReplayTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
