package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/depth.stream/internal/rgbd/network"
)

var listenAddr string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive a live stream over UDP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("address") {
			cfg.Listen.Address = listenAddr
		}
		t, err := network.ListenUDP(network.UDPConfig{
			Address:        cfg.Listen.Address,
			RcvBuf:         cfg.Listen.RcvBuf,
			ControlAddress: cfg.Control.Address,
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

func init() {
	listenCmd.Flags().StringVarP(&listenAddr, "address", "a", "", "UDP listen address (overrides listen.address)")
}
