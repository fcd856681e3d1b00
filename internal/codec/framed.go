package codec

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// segments per record: the id plus every field
const framedSegments = 1 + FieldCount

// Framed is a length prefixed format. Every field is written as a sized
// blob, so any text survives a round trip.
//
//	*6\r\n
//	+<id>\r\n
//	$<len>\r\n<field>\r\n   (five times)
type Framed struct{}

func (Framed) Name() string { return FramedName }

func (Framed) Encode(buf *bytes.Buffer, rows []Row) error {
	for _, row := range rows {
		if row.ID == 0 {
			return errors.Wrap(ErrCorrupted, "cannot frame a row without id")
		}

		writeArray(framedSegments, buf)
		writeSimpleString([]byte(strconv.FormatUint(row.ID, 10)), buf)
		for _, f := range row.Fields {
			writeBlob([]byte(f), buf)
		}
	}

	return nil
}

// Decode stops at the first corrupted record. A record cut short by the end
// of the file is counted as skipped and is not an error.
func (Framed) Decode(r *bufio.Reader) (Result, error) {
	p := framedParser{r: r}
	return p.parse()
}

func writeArray(segments int, buf *bytes.Buffer) int {
	buf.WriteByte('*')
	s := strconv.FormatInt(int64(segments), 10)
	buf.WriteString(s)
	buf.WriteString("\r\n")

	return 3 + len(s)
}

func writeSimpleString(b []byte, buf *bytes.Buffer) int {
	buf.WriteByte('+')
	buf.Write(b)
	buf.WriteString("\r\n")

	return 3 + len(b)
}

func writeBlob(blob []byte, buf *bytes.Buffer) int {
	buf.WriteByte('$')
	l := strconv.FormatInt(int64(len(blob)), 10)
	buf.WriteString(l)
	buf.WriteString("\r\n")
	buf.Write(blob)
	buf.WriteString("\r\n")

	return 1 + len(l) + 2 + len(blob) + 2
}

type framedParser struct {
	r       *bufio.Reader
	line    int
	records int
}

func (p *framedParser) parse() (Result, error) {
	var res Result

	for {
		firstByte, err := p.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return res, nil
			}

			return res, errors.Wrap(ErrReadFailed, err.Error())
		}

		// zero padding can be left behind by an interrupted in-place rewrite
		if firstByte == 0 {
			continue
		}

		if err := p.r.UnreadByte(); err != nil {
			return res, errors.Wrap(ErrReadFailed, err.Error())
		}

		row, err := p.parseRecord()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				res.Skipped++
				return res, nil
			}

			return res, err
		}

		p.records++
		res.Rows = append(res.Rows, row)
	}
}

func (p *framedParser) parseRecord() (Row, error) {
	var row Row

	line, err := p.readLine()
	if err != nil {
		return row, err
	}

	if len(line) < 2 || line[0] != '*' {
		return row, p.corrupted("record #%d does not start with an array header", p.records+1)
	}

	segments, err := strconv.Atoi(string(line[1:]))
	if err != nil || segments != framedSegments {
		return row, p.corrupted("record #%d has invalid segment count %q", p.records+1, line[1:])
	}

	line, err = p.readLine()
	if err != nil {
		return row, err
	}

	if len(line) < 2 || line[0] != '+' {
		return row, p.corrupted("record #%d has no id", p.records+1)
	}

	row.ID, err = strconv.ParseUint(string(line[1:]), 10, 64)
	// the largest id would leave no id for the next contact
	if err != nil || row.ID == 0 || row.ID == math.MaxUint64 {
		return row, p.corrupted("record #%d has invalid id %q", p.records+1, line[1:])
	}

	for i := range row.Fields {
		f, err := p.readBlob()
		if err != nil {
			return row, err
		}

		row.Fields[i] = f
	}

	return row, nil
}

// readLine returns the next line without its \r\n terminator.
func (p *framedParser) readLine() ([]byte, error) {
	p.line++
	line, err := p.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, errors.Wrap(ErrReadFailed, err.Error())
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, p.corrupted("missing \\r\\n terminator")
	}

	return line[:len(line)-2], nil
}

func (p *framedParser) readBlob() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}

	if len(line) < 2 || line[0] != '$' {
		return "", p.corrupted("expected a blob header")
	}

	size, err := strconv.Atoi(string(line[1:]))
	if err != nil || size < 0 {
		return "", p.corrupted("invalid blob size %q", line[1:])
	}

	blob := make([]byte, size+2)
	if _, err := io.ReadFull(p.r, blob); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", io.ErrUnexpectedEOF
		}

		return "", errors.Wrap(ErrReadFailed, err.Error())
	}

	p.line += bytes.Count(blob[:size], []byte{'\n'}) + 1

	if blob[size] != '\r' || blob[size+1] != '\n' {
		return "", p.corrupted("blob of %d bytes is not terminated", size)
	}

	return string(blob[:size]), nil
}

func (p *framedParser) corrupted(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupted, "line %d: "+format, append([]interface{}{p.line}, args...)...)
}
