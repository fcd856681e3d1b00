package abook

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultQueueSize = 16

// Format selects how the backing file is encoded.
type Format string

const (
	// Framed stores ids and length prefixed fields. Any text survives a reload.
	Framed Format = "framed"
	// Legacy stores one comma separated line per contact. Fields holding
	// commas or line breaks are lost on reload.
	Legacy Format = "legacy"
)

type Config struct {
	Format Format
	// QueueSize bounds the snapshots waiting for the writer.
	// Mutations block while it is full.
	QueueSize           int
	DisableAtomicWrites bool
	FilePerm            os.FileMode
	Logger              *zerolog.Logger
}

func (cfg *Config) applyDefaults() error {
	switch cfg.Format {
	case "":
		cfg.Format = Framed
	case Framed, Legacy:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown format %q", cfg.Format)
	}

	if cfg.QueueSize < 0 {
		return errors.Wrapf(ErrInvalidConfig, "queue size %d is negative", cfg.QueueSize)
	} else if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}

	if cfg.FilePerm == 0 {
		cfg.FilePerm = 0644
	}

	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	return nil
}
