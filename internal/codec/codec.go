// Package codec encodes contact rows to and from the backing file.
package codec

import (
	"bufio"
	"bytes"

	"github.com/pkg/errors"
)

var ErrUnknownFormat = errors.New("unknown file format")
var ErrCorrupted = errors.New("backing file corrupted")
var ErrReadFailed = errors.New("backing file read failed")

const (
	LegacyName = "legacy"
	FramedName = "framed"
)

// FieldCount is the number of text fields in a row.
const FieldCount = 5

// Row is the storage shape of one record. ID 0 means the format
// does not carry identifiers and the caller assigns them.
type Row struct {
	ID     uint64
	Fields [FieldCount]string
}

// Result is what a decode recovered from a file.
type Result struct {
	Rows    []Row
	Skipped int
}

type Codec interface {
	Name() string
	Encode(buf *bytes.Buffer, rows []Row) error
	// Decode returns the rows read so far even when it fails.
	Decode(r *bufio.Reader) (Result, error)
}

func ByName(name string) (Codec, error) {
	switch name {
	case LegacyName:
		return Legacy{}, nil
	case FramedName:
		return Framed{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", name)
	}
}
