package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/depth.stream/internal/config"
	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/version"
)

var (
	// Global flags
	configFile string
	logLevel   string
	adminAddr  string

	// cfg is loaded by the root PersistentPreRunE before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rgbd-receiver",
	Short: "Receive and reassemble RGB-D sensor streams",
	Long: `rgbd-receiver accepts a fragmented RGB-D stream (depth blocks, color and
body-index planes, body tracking and audio) over UDP or from a packet capture,
reassembles whole point-cloud frames and hands them to a consumer loop.

Configuration comes from an optional file (--config) with RGBD_* environment
overrides; the flags below override both.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		if cmd.Flags().Changed("admin") {
			c.Admin.Listen = adminAddr
		}

		opts := monitoring.Options{Level: c.Log.Level, Format: c.Log.Format}
		if c.Log.File.Enabled {
			opts.File = &monitoring.FileOptions{
				Path:       c.Log.File.Path,
				MaxSizeMB:  c.Log.File.MaxSizeMB,
				MaxBackups: c.Log.File.MaxBackups,
				MaxAgeDays: c.Log.File.MaxAgeDays,
				Compress:   c.Log.File.Compress,
			}
		}
		if err := monitoring.Configure(opts); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "",
		"debug HTTP listen address, e.g. 127.0.0.1:8080 (empty disables)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
