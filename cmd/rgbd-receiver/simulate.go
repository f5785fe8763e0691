package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/network"
	"github.com/banshee-data/depth.stream/internal/rgbd/synth"
)

// configEvery resends Config so a receiver started late still syncs.
const configEvery = 5 * time.Second

var simOpts struct {
	to      string
	width   int
	height  int
	fps     float64
	rows    int
	frames  int
	replay  bool
	shuffle bool
	bodies  int
	audio   int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send a synthetic RGB-D stream to a receiver",
	Long: `simulate generates a moving test scene (depth, color, one or more tracked
bodies and a tone) and streams it over UDP the way a sensor would. Config is
resent periodically and whenever the receiver requests it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return simulate(ctx)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.to, "to", "127.0.0.1:1339", "receiver UDP address")
	f.IntVar(&simOpts.width, "width", 320, "depth image width")
	f.IntVar(&simOpts.height, "height", 240, "depth image height")
	f.Float64Var(&simOpts.fps, "fps", 30, "frames per second")
	f.IntVar(&simOpts.rows, "rows", 8, "rows per depth block")
	f.IntVar(&simOpts.frames, "frames", 0, "stop after this many frames (0 = run until interrupted)")
	f.BoolVar(&simOpts.replay, "replay", false, "mark the stream as a replay instead of live")
	f.BoolVar(&simOpts.shuffle, "shuffle", false, "send depth blocks out of order")
	f.IntVar(&simOpts.bodies, "bodies", 1, "number of tracked bodies")
	f.IntVar(&simOpts.audio, "audio-rate", 16000, "audio sample rate in Hz (0 disables audio)")
}

func simulate(ctx context.Context) error {
	log := monitoring.Component("simulate")
	if simOpts.fps <= 0 || simOpts.width <= 0 || simOpts.height <= 0 {
		return fmt.Errorf("invalid stream shape %dx%d at %g fps", simOpts.width, simOpts.height, simOpts.fps)
	}

	g := synth.NewGenerator(simOpts.width, simOpts.height)
	g.FrameRate = simOpts.fps
	g.RowsPerBlock = simOpts.rows
	g.Live = !simOpts.replay
	g.ShuffleRows = simOpts.shuffle
	g.Bodies = simOpts.bodies
	g.AudioRate = simOpts.audio

	s, err := network.DialUDP(simOpts.to)
	if err != nil {
		return err
	}
	defer s.Close()

	requests := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			c, err := s.ReadCommand(500 * time.Millisecond)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Debugf("ignoring control datagram: %v", err)
				// The receiver port may not be open yet.
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if c == network.RequestConfig() {
				select {
				case requests <- struct{}{}:
				default:
				}
			} else {
				log.Infof("received %s %s command", c.Cmd, c.Val)
			}
		}
	}()

	sendConfig := func(reason string) error {
		log.Debugf("sending config (%s)", reason)
		return s.Send(g.ConfigMessage())
	}
	if err := sendConfig("startup"); err != nil {
		log.Warnf("failed to send config: %v", err)
	}

	frameTick := time.NewTicker(time.Duration(float64(time.Second) / simOpts.fps))
	defer frameTick.Stop()
	configTick := time.NewTicker(configEvery)
	defer configTick.Stop()

	log.Infof("streaming %dx%d at %.0f fps to %s", g.Width, g.Height, g.FrameRate, simOpts.to)
	for {
		select {
		case <-ctx.Done():
			log.Infof("sent %d frames", g.Frames())
			return nil
		case <-requests:
			if err := sendConfig("requested"); err != nil {
				log.Warnf("failed to send config: %v", err)
			}
		case <-configTick.C:
			if err := sendConfig("periodic"); err != nil {
				log.Warnf("failed to send config: %v", err)
			}
		case <-frameTick.C:
			for _, m := range g.NextFrame() {
				if err := s.Send(m); err != nil {
					// A connected UDP socket reports ICMP port unreachable
					// here until the receiver is up.
					log.Debugf("send %s failed: %v", m.Type, err)
					break
				}
			}
			if simOpts.frames > 0 && g.Frames() >= uint64(simOpts.frames) {
				log.Infof("sent %d frames", g.Frames())
				return nil
			}
		}
	}
}
