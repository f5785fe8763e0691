// Package config loads receiver configuration.
//
// The schema is flat enough to live in a single YAML or JSON file; every key
// can be overridden from the environment with the RGBD_ prefix, dots replaced
// by underscores (processor.kind -> RGBD_PROCESSOR_KIND).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "RGBD"

// Processor kinds accepted in processor.kind.
const (
	ProcessorLatestWins       = "latest-wins"
	ProcessorSequenceComplete = "sequence-complete"
)

// Config is the root receiver configuration.
type Config struct {
	Listen          ListenConfig    `mapstructure:"listen"`
	Control         ControlConfig   `mapstructure:"control"`
	Processor       ProcessorConfig `mapstructure:"processor"`
	Audio           AudioConfig     `mapstructure:"audio"`
	Log             LogConfig       `mapstructure:"log"`
	Admin           AdminConfig     `mapstructure:"admin"`
	Consumer        ConsumerConfig  `mapstructure:"consumer"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// ListenConfig configures the UDP socket.
type ListenConfig struct {
	Address string `mapstructure:"address"`
	RcvBuf  int    `mapstructure:"rcvbuf"`
}

// ControlConfig configures where outbound control commands go. An empty
// address means "reply to the last peer seen".
type ControlConfig struct {
	Address string `mapstructure:"address"`
}

// ProcessorConfig selects and tunes the reassembly strategy.
type ProcessorConfig struct {
	Kind                 string        `mapstructure:"kind"`
	PoolSize             int           `mapstructure:"pool_size"`
	StaleResyncThreshold int           `mapstructure:"stale_resync_threshold"`
	ScanInterval         time.Duration `mapstructure:"scan_interval"`
}

// AudioConfig bounds the buffered audio backlog.
type AudioConfig struct {
	MaxFrames int `mapstructure:"max_frames"`
}

// LogConfig configures the shared logger.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures rotated log file output.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AdminConfig configures the debug HTTP listener. Empty disables it.
type AdminConfig struct {
	Listen string `mapstructure:"listen"`
}

// ConsumerConfig tunes the headless consumer loop in the CLI.
type ConsumerConfig struct {
	FPS int `mapstructure:"fps"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.address", ":1339")
	v.SetDefault("listen.rcvbuf", 4<<20)
	v.SetDefault("control.address", "")

	v.SetDefault("processor.kind", ProcessorLatestWins)
	v.SetDefault("processor.pool_size", 0) // 0 = per-kind default
	v.SetDefault("processor.stale_resync_threshold", 1000)
	v.SetDefault("processor.scan_interval", "1ms")

	v.SetDefault("audio.max_frames", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "rgbd-receiver.log")
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 14)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("admin.listen", "")
	v.SetDefault("consumer.fps", 60)

	v.SetDefault("idle_timeout", "2s")
	v.SetDefault("shutdown_timeout", "500ms")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the configuration built purely from defaults and the
// environment.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a configuration file (yaml, json or toml by extension), applies
// environment overrides and validates the result. An empty path behaves like
// Default.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		cleanPath := filepath.Clean(path)
		switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
		case ".yaml", ".yml", ".json", ".toml":
		default:
			return nil, fmt.Errorf("config file must be yaml, json or toml, got %q", ext)
		}
		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	switch c.Processor.Kind {
	case ProcessorLatestWins, ProcessorSequenceComplete:
	default:
		return fmt.Errorf("processor.kind must be %q or %q, got %q",
			ProcessorLatestWins, ProcessorSequenceComplete, c.Processor.Kind)
	}
	if c.Processor.PoolSize < 0 {
		return fmt.Errorf("processor.pool_size must be non-negative, got %d", c.Processor.PoolSize)
	}
	if c.Processor.PoolSize > 0 && c.Processor.PoolSize < 2 {
		return fmt.Errorf("processor.pool_size must be at least 2, got %d", c.Processor.PoolSize)
	}
	if c.Processor.StaleResyncThreshold < 1 {
		return fmt.Errorf("processor.stale_resync_threshold must be positive, got %d", c.Processor.StaleResyncThreshold)
	}
	if c.Processor.ScanInterval <= 0 {
		return fmt.Errorf("processor.scan_interval must be positive, got %s", c.Processor.ScanInterval)
	}
	if c.Audio.MaxFrames < 0 {
		return fmt.Errorf("audio.max_frames must be non-negative, got %d", c.Audio.MaxFrames)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.Consumer.FPS <= 0 {
		return fmt.Errorf("consumer.fps must be positive, got %d", c.Consumer.FPS)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled is set")
	}
	return nil
}
