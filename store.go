package abook

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/btree"

	"github.com/denismitr/abook/internal/codec"
	"github.com/denismitr/abook/internal/persist"
)

var ErrStoreClosed = errors.New("store already closed")
var ErrInvalidConfig = errors.New("invalid store config")
var ErrInvalidID = errors.New("invalid contact id")
var ErrIDsExhausted = errors.New("no contact ids left")

// LoadReport describes what was recovered from the backing file when the
// store was opened.
type LoadReport struct {
	Loaded  int
	Skipped int
	// Err is set when the file existed but could not be read completely.
	Err error
}

type Closer func() error

func NullCloser() error { return nil }

// Store keeps contacts in insertion order and mirrors every change to the
// backing file through a single background writer.
type Store struct {
	path   string
	cfg    Config
	codec  codec.Codec
	logger zerolog.Logger

	mu      sync.RWMutex
	entries *btree.BTree
	nextID  ID
	writer  *persist.Writer
	last    *Op
	report  LoadReport
	closed  bool
}

// New opens the store backed by the file at path. A missing or unreadable
// file yields an empty store; only an invalid configuration is an error.
// The returned Closer waits for pending writes.
func New(path string, cfg *Config) (*Store, Closer, error) {
	if path == "" {
		return nil, NullCloser, errors.Wrap(ErrInvalidConfig, "backing file path is empty")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}

	if err := c.applyDefaults(); err != nil {
		return nil, NullCloser, err
	}

	cd, err := codec.ByName(string(c.Format))
	if err != nil {
		return nil, NullCloser, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	s := &Store{
		path:    path,
		cfg:     c,
		codec:   cd,
		logger:  c.Logger.With().Str("component", "store").Str("file", path).Logger(),
		entries: btree.NewNonConcurrent(byID),
		nextID:  1,
	}

	onDisk := s.load()

	s.writer = persist.NewWriter(path, cd, persist.Options{
		QueueSize: c.QueueSize,
		Atomic:    !c.DisableAtomicWrites,
		FilePerm:  c.FilePerm,
		Logger:    *c.Logger,
	})

	if onDisk != nil {
		s.writer.Remember(onDisk)
	}

	s.writer.Start()

	return s, s.close, nil
}

// load fills the store from the backing file and returns the raw file
// contents when they were decoded without error.
func (s *Store) load() []byte {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Msg("backing file does not exist, starting empty")
			return nil
		}

		s.report.Err = errors.Wrapf(codec.ErrReadFailed, "could not read %s: %s", s.path, err.Error())
		s.logger.Error().Err(err).Msg("could not load contacts, starting empty")
		return nil
	}

	res, decodeErr := s.codec.Decode(bufio.NewReader(bytes.NewReader(raw)))

	s.report.Skipped = res.Skipped
	for _, row := range res.Rows {
		if !s.insertLoadedUnderLock(row) {
			s.report.Skipped++
		}
	}

	s.report.Loaded = s.entries.Len()

	if s.report.Skipped > 0 {
		s.logger.Warn().
			Int("skipped", s.report.Skipped).
			Int("loaded", s.report.Loaded).
			Msg("malformed contacts skipped while loading")
	}

	if decodeErr != nil {
		s.report.Err = errors.Wrapf(decodeErr, "could not load all contacts from %s", s.path)
		s.logger.Error().Err(decodeErr).Int("loaded", s.report.Loaded).Msg("backing file is damaged, kept what could be read")
		return nil
	}

	s.logger.Debug().Int("loaded", s.report.Loaded).Str("format", s.codec.Name()).Msg("contacts loaded")
	return raw
}

func (s *Store) insertLoadedUnderLock(row codec.Row) bool {
	id := ID(row.ID)
	if id == 0 {
		id = s.nextID
	}

	if id == math.MaxUint64 {
		s.logger.Warn().Stringer("id", id).Msg("contact id out of range in backing file, dropped")
		return false
	}

	ent := &Entry{ID: id, Record: recordFromFields(row.Fields)}
	if existing := s.entries.Set(ent); existing != nil {
		_ = s.entries.Set(existing)
		s.logger.Warn().Stringer("id", id).Msg("duplicate contact id in backing file, later one dropped")
		return false
	}

	if id >= s.nextID {
		s.nextID = id + 1
	}

	return true
}

func (s *Store) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.closed = true
	if err := s.writer.Close(); err != nil {
		return errors.Wrap(err, "could not close store writer")
	}

	return nil
}

// Add appends r to the end of the collection.
func (s *Store) Add(r Record) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedOp(0, false, ErrStoreClosed)
	}

	if s.nextID == 0 {
		return finishedOp(0, false, ErrIDsExhausted)
	}

	ent := &Entry{ID: s.nextID, Record: r}
	s.nextID++
	if existing := s.entries.Set(ent); existing != nil {
		panic("contact id " + ent.ID.String() + " handed out twice")
	}
	s.warnIfLossyUnderLock(r)

	s.logger.Debug().Stringer("id", ent.ID).Msg("contact added")
	return s.persistUnderLock(ent.ID)
}

// Delete removes the first entry equal to r. Nothing happens when there is
// no such entry.
func (s *Store) Delete(r Record) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedOp(0, false, ErrStoreClosed)
	}

	ent := s.findUnderLock(r)
	if ent == nil {
		return finishedOp(0, false, nil)
	}

	return s.removeUnderLock(ent)
}

func (s *Store) DeleteByID(id ID) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedOp(0, false, ErrStoreClosed)
	}

	ent := s.getUnderLock(id)
	if ent == nil {
		return finishedOp(0, false, nil)
	}

	return s.removeUnderLock(ent)
}

// Update replaces the first entry equal to old with updated, keeping its
// position and id. Nothing happens when there is no such entry.
func (s *Store) Update(old, updated Record) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedOp(0, false, ErrStoreClosed)
	}

	ent := s.findUnderLock(old)
	if ent == nil {
		return finishedOp(0, false, nil)
	}

	return s.replaceUnderLock(ent, updated)
}

func (s *Store) UpdateByID(id ID, updated Record) *Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return finishedOp(0, false, ErrStoreClosed)
	}

	ent := s.getUnderLock(id)
	if ent == nil {
		return finishedOp(0, false, nil)
	}

	return s.replaceUnderLock(ent, updated)
}

func (s *Store) Get(id ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent := s.getUnderLock(id)
	if ent == nil {
		return Record{}, false
	}

	return ent.Record, true
}

// List returns a copy of the records in collection order.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, s.entries.Len())
	s.entries.Ascend(nil, func(i interface{}) bool {
		records = append(records, i.(*Entry).Record)
		return true
	})

	return records
}

// Entries returns a copy of the entries in collection order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, s.entries.Len())
	s.entries.Ascend(nil, func(i interface{}) bool {
		entries = append(entries, *i.(*Entry))
		return true
	})

	return entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries.Len()
}

func (s *Store) LoadReport() LoadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.report
}

func (s *Store) Path() string { return s.path }

func (s *Store) Format() Format { return s.cfg.Format }

// Flush waits until every mutation issued so far has reached the backing
// file and returns the error of the latest write.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if last == nil {
		return nil
	}

	return last.Wait(ctx)
}

func (s *Store) findUnderLock(r Record) *Entry {
	var found *Entry
	s.entries.Ascend(nil, func(i interface{}) bool {
		ent, ok := i.(*Entry)
		if !ok {
			panic(castPanic)
		}

		if ent.Record.Equal(r) {
			found = ent
			return false
		}

		return true
	})

	return found
}

func (s *Store) getUnderLock(id ID) *Entry {
	found := s.entries.Get(&Entry{ID: id})
	if found == nil {
		return nil
	}

	ent, ok := found.(*Entry)
	if !ok {
		panic(castPanic)
	}

	return ent
}

func (s *Store) removeUnderLock(ent *Entry) *Op {
	s.entries.Delete(ent)
	s.logger.Debug().Stringer("id", ent.ID).Msg("contact deleted")
	return s.persistUnderLock(ent.ID)
}

func (s *Store) replaceUnderLock(ent *Entry, updated Record) *Op {
	s.entries.Set(&Entry{ID: ent.ID, Record: updated})
	s.warnIfLossyUnderLock(updated)
	s.logger.Debug().Stringer("id", ent.ID).Msg("contact updated")
	return s.persistUnderLock(ent.ID)
}

// persistUnderLock hands a snapshot of the whole collection to the writer.
// Enqueueing under the lock keeps snapshots in mutation order.
func (s *Store) persistUnderLock(id ID) *Op {
	rows := make([]codec.Row, 0, s.entries.Len())
	s.entries.Ascend(nil, func(i interface{}) bool {
		rows = append(rows, i.(*Entry).row())
		return true
	})

	op := newOp(id, true)
	if err := s.writer.Enqueue(rows, op.finish); err != nil {
		op.finish(errors.Wrap(err, "could not schedule save"))
	}

	s.last = op
	return op
}

func (s *Store) warnIfLossyUnderLock(r Record) {
	if s.cfg.Format == Legacy && r.HasDelimiters() {
		s.logger.Warn().
			Str("name", r.Name).
			Msg("contact holds a comma or line break and will not survive a reload in the legacy format")
	}
}
