package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the process logger
type Options struct {
	Level      string
	Format     string
	File       string // optional rotating log file, written in JSON
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the global zerolog logger. The returned closer flushes the
// rotating file, if any, and is safe to call when no file is configured.
func Setup(opts Options, out io.Writer) (io.Closer, error) {
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var primary io.Writer
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case FormatJSON:
		primary = out
	default:
		return nil, fmt.Errorf("invalid log format %q (want console or json)", opts.Format)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	var closer io.Closer = nopCloser{}
	writer := primary
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(primary, rotator)
		closer = rotator
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
