package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/network"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
	"github.com/banshee-data/depth.stream/internal/timeutil"
)

// Transport delivers raw stream messages and carries control commands back
// to the sender. Receive returns io.EOF when the stream has ended (for
// example at the end of a replayed capture) and ctx.Err() when cancelled.
type Transport interface {
	Receive(ctx context.Context) (wire.RawMessage, error)
	Send(ctx context.Context, b []byte) error
}

const (
	DefaultIdleTimeout     = 2 * time.Second
	DefaultShutdownTimeout = 500 * time.Millisecond
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// IdleTimeout is how long the stream may stay silent before the
	// receiver asks the sender for a Config and marks the device idle. It
	// is also the interval of config requests while none has arrived.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds how long Close waits for Run to return.
	ShutdownTimeout time.Duration

	// Clock drives the idle watchdog. Nil uses the decoder's clock.
	Clock timeutil.Clock
}

// Receiver pumps messages from a Transport into a Decoder.
type Receiver struct {
	dec       *Decoder
	transport Transport
	cfg       ReceiverConfig
	id        uuid.UUID

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	log *logrus.Entry
}

func NewReceiver(dec *Decoder, t Transport, cfg ReceiverConfig) *Receiver {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = dec.clock
	}
	id := uuid.New()
	return &Receiver{
		dec:       dec,
		transport: t,
		cfg:       cfg,
		id:        id,
		log:       monitoring.Component("receiver").WithField("receiver", id.String()),
	}
}

// ID identifies this receiver instance in logs.
func (r *Receiver) ID() uuid.UUID { return r.id }

// Run receives and dispatches messages until ctx is cancelled, Close is
// called or the transport reports io.EOF. Those cases return nil; any other
// transport error is returned.
func (r *Receiver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel, r.done = cancel, done
	r.mu.Unlock()
	defer close(done)
	defer cancel()

	r.log.Info("receiver started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receive(gctx) })
	g.Go(func() error { return r.watchdog(gctx) })

	err := g.Wait()
	switch {
	case errors.Is(err, io.EOF):
		r.log.Info("stream ended")
		return nil
	case err != nil && ctx.Err() != nil:
		r.log.Info("receiver stopped")
		return nil
	case err != nil:
		r.log.Errorf("receiver failed: %v", err)
		return err
	}
	return nil
}

func (r *Receiver) receive(ctx context.Context) error {
	for {
		msg, err := r.transport.Receive(ctx)
		if err != nil {
			return err
		}
		r.dec.Dispatch(msg)
	}
}

// watchdog asks the sender for its Config while none has been seen, and
// when the stream has gone quiet for IdleTimeout it asks again and moves
// the attached device to Idle. Data arriving without a fresh Config keeps
// the device attached.
func (r *Receiver) watchdog(ctx context.Context) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.IdleTimeout)
	defer ticker.Stop()

	request := network.MustEncode(network.RequestConfig())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		_, configured := r.dec.SinceConfig()
		quiet, heard := r.dec.SinceMessage()
		silent := !heard || quiet >= r.cfg.IdleTimeout
		if configured && !silent {
			continue
		}
		if err := r.transport.Send(ctx, request); err != nil {
			if errors.Is(err, network.ErrNoPeer) {
				r.log.Debug("no sender yet; config request not sent")
			} else {
				r.log.Warnf("failed to request config: %v", err)
			}
		}
		if configured && r.dec.Machine().MarkIdle() {
			r.log.Infof("no data for %s; device idle", quiet.Round(time.Millisecond))
		}
	}
}

// Close stops Run and waits up to ShutdownTimeout for it to return. A
// timeout is logged, not returned.
func (r *Receiver) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.log.Warnf("receiver did not stop within %s", r.cfg.ShutdownTimeout)
	}
	return nil
}
