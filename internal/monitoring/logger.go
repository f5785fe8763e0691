package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// base backs Component. It is replaced wholesale by Configure and UseLogger,
// so callers holding a Component entry keep the old sink.
var base = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Logger returns the shared logrus logger.
func Logger() *logrus.Logger {
	return base
}

// UseLogger swaps the shared logrus logger. Intended for tests that attach a
// hook (see logrus/hooks/test) before constructing components.
func UseLogger(l *logrus.Logger) {
	if l == nil {
		l = newDefaultLogger()
	}
	base = l
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}

// FileOptions configures rotated file output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options configures the shared logger.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // text or json
	File   *FileOptions
}

// Configure builds a fresh shared logger from opts. Stderr is always written;
// a rotated file is added when opts.File is set.
func Configure(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lvl
	}

	writers := []io.Writer{os.Stderr}
	if opts.File != nil {
		if opts.File.Path == "" {
			return fmt.Errorf("file output requires a path")
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		})
	}

	l := logrus.New()
	l.SetOutput(io.MultiWriter(writers...))
	l.SetLevel(level)
	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format: %s (must be text or json)", opts.Format)
	}

	base = l
	return nil
}
