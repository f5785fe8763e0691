package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// ErrNoPeer is returned by Send before any datagram has arrived when no
// control address was configured.
var ErrNoPeer = errors.New("no peer address to send to")

const (
	defaultReadTimeout = 100 * time.Millisecond
	maxDatagramSize    = 65535
)

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	Address string // local listen address, e.g. ":1339"
	RcvBuf  int    // socket receive buffer in bytes, 0 leaves the OS default

	// ControlAddress receives outbound commands. When empty, commands go to
	// the source of the most recent datagram.
	ControlAddress string

	// ReadTimeout bounds each socket read so that cancellation is noticed.
	ReadTimeout time.Duration
}

// UDPTransport receives enveloped stream messages on a UDP socket and sends
// control commands back.
type UDPTransport struct {
	conn        *net.UDPConn
	buf         []byte
	control     *net.UDPAddr
	peer        atomic.Pointer[net.UDPAddr]
	readTimeout time.Duration

	received  atomic.Uint64
	malformed atomic.Uint64

	closeOnce sync.Once
	log       *logrus.Entry
	warn      *rate.Limiter
}

// ListenUDP opens the socket described by cfg.
func ListenUDP(cfg UDPConfig) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	var control *net.UDPAddr
	if cfg.ControlAddress != "" {
		control, err = net.ResolveUDPAddr("udp", cfg.ControlAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve control address: %w", err)
		}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}

	log := monitoring.Component("udp")
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			log.Warnf("failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	log.Infof("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), cfg.RcvBuf)

	return &UDPTransport{
		conn:        conn,
		buf:         make([]byte, maxDatagramSize),
		control:     control,
		readTimeout: readTimeout,
		log:         log,
		warn:        rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Receive blocks until a well-formed datagram arrives or ctx is done. The
// returned payload is only valid until the next call.
func (t *UDPTransport) Receive(ctx context.Context) (wire.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return wire.RawMessage{}, err
		}
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))

		n, addr, err := t.conn.ReadFromUDP(t.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return wire.RawMessage{}, io.EOF
			}
			if ctx.Err() != nil {
				return wire.RawMessage{}, ctx.Err()
			}
			if t.warn.Allow() {
				t.log.Warnf("UDP read error: %v", err)
			}
			continue
		}

		t.peer.Store(addr)
		msg, err := DecodeEnvelope(t.buf[:n])
		if err != nil {
			t.malformed.Add(1)
			if t.warn.Allow() {
				t.log.Warnf("dropping datagram from %v: %v", addr, err)
			}
			continue
		}
		t.received.Add(1)
		return msg, nil
	}
}

// Send writes b to the control address, or to the last peer.
func (t *UDPTransport) Send(ctx context.Context, b []byte) error {
	dst := t.control
	if dst == nil {
		dst = t.peer.Load()
	}
	if dst == nil {
		return ErrNoPeer
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	if _, err := t.conn.WriteToUDP(b, dst); err != nil {
		return fmt.Errorf("send to %v: %w", dst, err)
	}
	return nil
}

// LocalAddr is the bound socket address.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Received and Malformed count datagrams since the socket opened.
func (t *UDPTransport) Received() uint64  { return t.received.Load() }
func (t *UDPTransport) Malformed() uint64 { return t.malformed.Load() }

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}

// Sender is the transmitting side of the envelope, used by the synthetic
// stream generator.
type Sender struct {
	conn *net.UDPConn
}

// DialUDP connects a Sender to a receiver address.
func DialUDP(address string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return &Sender{conn: conn}, nil
}

// Send envelopes and writes one message.
func (s *Sender) Send(msg wire.RawMessage) error {
	_, err := s.conn.Write(EncodeEnvelope(msg))
	return err
}

// ReadCommand waits up to timeout for a control command from the receiver.
func (s *Sender) ReadCommand(timeout time.Duration) (Command, error) {
	buf := make([]byte, 4096)
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := s.conn.Read(buf)
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(buf[:n])
}

func (s *Sender) Close() error { return s.conn.Close() }
