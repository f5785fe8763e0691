package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/depth.stream/internal/rgbd/network"
)

var (
	replayPort int
	replayFast bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap|capture.pcapng>",
	Short: "Replay a packet capture of the stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := replayPort
		if !cmd.Flags().Changed("port") {
			p, err := portOf(cfg.Listen.Address)
			if err != nil {
				return err
			}
			port = p
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid UDP port %d", port)
		}

		t, err := network.OpenReplay(args[0], network.ReplayConfig{
			Port: uint16(port),
			Pace: !replayFast,
		})
		if err != nil {
			return err
		}
		defer t.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, t)
	},
}

// portOf extracts the port of a listen address such as ":1339".
func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return strconv.Atoi(p)
}

func init() {
	replayCmd.Flags().IntVarP(&replayPort, "port", "p", 0,
		"UDP destination port to keep (default: port of listen.address, 0 keeps all)")
	replayCmd.Flags().BoolVar(&replayFast, "fast", false, "replay as fast as possible instead of at capture pace")
}
