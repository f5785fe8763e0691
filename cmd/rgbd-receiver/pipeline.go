package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.stream/internal/config"
	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/body"
	"github.com/banshee-data/depth.stream/internal/rgbd/device"
	"github.com/banshee-data/depth.stream/internal/rgbd/reassembly"
	"github.com/banshee-data/depth.stream/internal/rgbd/stream"
)

const statsInterval = 5 * time.Second

func newDecoder(c *config.Config) (*stream.Decoder, error) {
	kind, err := reassembly.ParseKind(c.Processor.Kind)
	if err != nil {
		return nil, err
	}
	return stream.NewDecoder(stream.Options{
		Kind:                 kind,
		PoolSize:             c.Processor.PoolSize,
		StaleResyncThreshold: c.Processor.StaleResyncThreshold,
		ScanInterval:         c.Processor.ScanInterval,
		AudioMaxFrames:       c.Audio.MaxFrames,
	}), nil
}

// serve runs the receiver, the consumer loop and the optional admin server
// until ctx is cancelled or the transport ends.
func serve(ctx context.Context, c *config.Config, t stream.Transport) error {
	log := monitoring.Component("cli")

	dec, err := newDecoder(c)
	if err != nil {
		return err
	}
	defer dec.Close()

	recv := stream.NewReceiver(dec, t, stream.ReceiverConfig{
		IdleTimeout:     c.IdleTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
	})
	log.WithField("receiver", recv.ID().String()).Infof("using %s reassembly", c.Processor.Kind)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if c.Admin.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runAdmin(ctx, c.Admin.Listen, dec, log)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, dec, c.Consumer.FPS, log)
	}()

	err = recv.Run(ctx)
	cancel()
	recv.Close()
	wg.Wait()

	s := dec.Stats()
	fields := logrus.Fields{"received": s.Received, "panics": s.Panics, "collapsed": s.Collapsed}
	if s.Processor != nil {
		fields["committed"] = s.Processor.Committed
	}
	log.WithFields(fields).Info("receiver finished")
	return err
}

// nearestBody places each body at the centroid of its tracked joints in
// world space and returns the one closest to the camera.
func nearestBody(pose device.Pose, bodies []body.Frame) (id uint32, dist float64, ok bool) {
	for i := range bodies {
		joints := bodies[i].TrackedJoints()
		if len(joints) == 0 {
			continue
		}
		var sum r3.Vec
		for _, p := range joints {
			sum = r3.Add(sum, pose.Transform(p))
		}
		centre := r3.Scale(1/float64(len(joints)), sum)
		d := r3.Norm(r3.Sub(centre, pose.Position))
		if !ok || d < dist {
			id, dist, ok = bodies[i].TrackingID, d, true
		}
	}
	return id, dist, ok
}

// consume stands in for a renderer: it polls for frames at a fixed rate,
// drains the side queues and reports throughput.
func consume(ctx context.Context, dec *stream.Decoder, fps int, log *logrus.Entry) {
	tick := time.NewTicker(time.Second / time.Duration(fps))
	defer tick.Stop()
	report := time.NewTicker(statsInterval)
	defer report.Stop()

	var frames, bodies, audio int
	pose := device.IdentityPose()
	var nearest logrus.Fields
	for {
		select {
		case <-ctx.Done():
			return
		case <-report.C:
			log.WithFields(nearest).Infof("consumer: %.1f frames/s, %d bodies, %d audio blocks, state %s",
				float64(frames)/statsInterval.Seconds(), bodies, audio, dec.Machine().State())
			frames, bodies, audio = 0, 0, 0
			nearest = nil
		case <-tick.C:
			for {
				ev, ok := dec.NextEvent()
				if !ok {
					break
				}
				log.WithFields(logrus.Fields{"from": ev.From, "to": ev.To}).Infof("device event: %s", ev.Kind)
			}
			if f := dec.GetNewFrame(); f != nil {
				frames++
				pose = f.CameraPose
				dec.ReleaseFrame(f)
			}
			drained := dec.DrainBodies()
			bodies += len(drained)
			if id, d, ok := nearestBody(pose, drained); ok {
				nearest = logrus.Fields{"nearest_body": id, "distance_m": d}
			}
			audio += len(dec.DrainAudio())
		}
	}
}

func runAdmin(ctx context.Context, addr string, dec *stream.Decoder, log *logrus.Entry) {
	mux := http.NewServeMux()
	stream.AttachAdminRoutes(mux, dec)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server failed: %v", err)
		}
	}()
	log.Infof("admin routes on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("admin server shutdown error: %v", err)
	}
}
