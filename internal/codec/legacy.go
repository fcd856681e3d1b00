package codec

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const legacySeparator = ","

// Legacy is the comma separated one-record-per-line format.
// Fields are not escaped and identifiers are not stored.
type Legacy struct{}

func (Legacy) Name() string { return LegacyName }

func (Legacy) Encode(buf *bytes.Buffer, rows []Row) error {
	for _, row := range rows {
		buf.WriteString(strings.Join(row.Fields[:], legacySeparator))
		buf.WriteByte('\n')
	}

	return nil
}

// Decode drops every line that does not split into exactly FieldCount parts.
func (Legacy) Decode(r *bufio.Reader) (Result, error) {
	var res Result

	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return res, errors.Wrap(ErrReadFailed, err.Error())
		}

		atEOF := err == io.EOF
		if atEOF && line == "" {
			return res, nil
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		parts := strings.Split(line, legacySeparator)
		if len(parts) != FieldCount {
			res.Skipped++
		} else {
			var row Row
			copy(row.Fields[:], parts)
			res.Rows = append(res.Rows, row)
		}

		if atEOF {
			return res, nil
		}
	}
}
