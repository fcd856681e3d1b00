// Package persist owns the backing file. A single goroutine writes full
// snapshots of the collection in the order they were enqueued.
package persist

import (
	"bufio"
	"bytes"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/denismitr/abook/internal/codec"
)

var ErrWriterClosed = errors.New("writer already closed")
var ErrFileWriteFailed = errors.New("backing file write failed")

const DefaultFilePerm os.FileMode = 0644

type Options struct {
	QueueSize int
	// Atomic writes go to a temporary file that is renamed over the
	// backing file. Otherwise the file is truncated and rewritten in place.
	Atomic   bool
	FilePerm os.FileMode
	Logger   zerolog.Logger
}

type job struct {
	rows []codec.Row
	done func(error)
}

type Writer struct {
	path    string
	tmpPath string
	codec   codec.Codec
	atomic  bool
	perm    os.FileMode
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *job
	wg     sync.WaitGroup

	// owned by the run goroutine
	lastSum uint64
	hasSum  bool
}

func NewWriter(path string, c codec.Codec, opts Options) *Writer {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	if opts.FilePerm == 0 {
		opts.FilePerm = DefaultFilePerm
	}

	return &Writer{
		path:    path,
		tmpPath: path + ".tmp",
		codec:   c,
		atomic:  opts.Atomic,
		perm:    opts.FilePerm,
		logger:  opts.Logger.With().Str("component", "writer").Str("file", path).Logger(),
		queue:   make(chan *job, opts.QueueSize),
	}
}

// Remember records the bytes currently on disk so an identical snapshot
// is not written again. It must be called before Start.
func (w *Writer) Remember(onDisk []byte) {
	w.lastSum = xxhash.Sum64(onDisk)
	w.hasSum = true
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Enqueue hands a snapshot to the writer. done is called exactly once with
// the result of the write that covered the snapshot. Enqueue blocks while
// the queue is full.
func (w *Writer) Enqueue(rows []codec.Row, done func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.queue <- &job{rows: rows, done: done}
	return nil
}

// Close waits for every queued snapshot to be written.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}

	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	for j := range w.queue {
		batch := []*job{j}

	drain:
		for {
			select {
			case next, ok := <-w.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		// only the newest snapshot matters, the older ones are contained in it
		err := w.write(batch[len(batch)-1].rows)
		if len(batch) > 1 {
			w.logger.Debug().Int("coalesced", len(batch)).Msg("snapshots coalesced")
		}

		for _, b := range batch {
			if b.done != nil {
				b.done(err)
			}
		}
	}
}

func (w *Writer) write(rows []codec.Row) error {
	buf := &bytes.Buffer{}
	if err := w.codec.Encode(buf, rows); err != nil {
		w.logger.Error().Err(err).Int("records", len(rows)).Msg("could not encode contacts")
		return errors.Wrapf(err, "could not encode %d contacts", len(rows))
	}

	sum := xxhash.Sum64(buf.Bytes())
	if w.hasSum && sum == w.lastSum {
		w.logger.Debug().Int("records", len(rows)).Msg("snapshot unchanged, write skipped")
		return nil
	}

	var err error
	if w.atomic {
		err = w.writeAndSwap(buf)
	} else {
		err = w.rewrite(buf)
	}

	if err != nil {
		// the file no longer matches any known snapshot
		w.hasSum = false
		w.logger.Error().Err(err).Int("records", len(rows)).Msg("could not save contacts")
		return err
	}

	w.lastSum = sum
	w.hasSum = true
	w.logger.Debug().Int("records", len(rows)).Int("bytes", buf.Len()).Msg("contacts saved")
	return nil
}

func (w *Writer) rewrite(buf *bytes.Buffer) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.perm)
	if err != nil {
		return errors.Wrapf(ErrFileWriteFailed, "could not open %s: %s", w.path, err.Error())
	}

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return errors.Wrapf(ErrFileWriteFailed, "could not write %s: %s", w.path, err.Error())
	}

	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(ErrFileWriteFailed, "could not flush %s: %s", w.path, err.Error())
	}

	if err := f.Close(); err != nil {
		return errors.Wrapf(ErrFileWriteFailed, "could not close %s: %s", w.path, err.Error())
	}

	return nil
}

func (w *Writer) writeAndSwap(buf *bytes.Buffer) error {
	tmpF, err := os.OpenFile(w.tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.perm)
	if err != nil {
		return errors.Wrapf(ErrFileWriteFailed, "could not create %s: %s", w.tmpPath, err.Error())
	}

	expectedLen := buf.Len()
	n, err := tmpF.Write(buf.Bytes())
	if err == nil && n != expectedLen {
		err = errors.Errorf("wrote %d of %d bytes", n, expectedLen)
	}

	if err == nil {
		err = tmpF.Sync()
	}

	if closeErr := tmpF.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(w.tmpPath)
		return errors.Wrapf(ErrFileWriteFailed, "could not write %s: %s", w.tmpPath, err.Error())
	}

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return errors.Wrapf(ErrFileWriteFailed, "could not swap %s for %s: %s", w.path, w.tmpPath, err.Error())
	}

	return nil
}
