package abook

import (
	"strconv"

	"github.com/denismitr/abook/internal/codec"
)

const castPanic = "how could an item of the entries tree not be of type *Entry"

// ID identifies an entry for the lifetime of the backing file.
// IDs grow in insertion order and are never zero.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, ErrInvalidID
	}

	return ID(n), nil
}

type Entry struct {
	ID     ID
	Record Record
}

func (ent *Entry) row() codec.Row {
	return codec.Row{ID: uint64(ent.ID), Fields: ent.Record.Fields()}
}

func byID(a, b interface{}) bool {
	i1, ok1 := a.(*Entry)
	i2, ok2 := b.(*Entry)
	if !ok1 || !ok2 {
		panic(castPanic)
	}

	return i1.ID < i2.ID
}
