// Package logger builds the zerolog logger used as the log sink of the
// store and the command line tool.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level  string `help:"Log level: debug, info, warn or error." mapstructure:"level"`
	File   string `help:"Append logs to this file, - for stderr." mapstructure:"file"`
	Format string `help:"Log format: console or json." mapstructure:"format"`
}

type Closer func() error

func nopCloser() error { return nil }

func level(option string) (zerolog.Level, bool) {
	switch strings.ToLower(option) {
	case "":
		return zerolog.InfoLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.NoLevel, false
	}
}

// New never fails. Unusable options are replaced by their defaults and the
// problem is logged through the fallback logger.
func New(options *Options, stderr io.Writer) (zerolog.Logger, Closer) {
	lvl, ok := level(options.Level)
	if !ok {
		bad := options.Level
		options.Level = ""
		logger, closer := New(options, stderr)
		logger.Warn().Str("level", bad).Msg("could not parse logger level")
		return logger, closer
	}

	var console bool
	switch strings.ToLower(options.Format) {
	case "", "console":
		console = true
	case "json":
	default:
		bad := options.Format
		options.Format = "console"
		logger, closer := New(options, stderr)
		logger.Warn().Str("format", bad).Msg("could not parse logger format")
		return logger, closer
	}

	var output io.Writer
	closer := Closer(nopCloser)
	switch options.File {
	case "", "-":
		output = stderr
	case os.DevNull:
		return zerolog.Nop(), closer
	default:
		f, err := os.OpenFile(options.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			options.File = ""
			logger, closer := New(options, stderr)
			logger.Warn().Err(err).Msg("could not open logger file")
			return logger, closer
		}
		output, closer = f, f.Close
	}

	if console {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger(), closer
}
