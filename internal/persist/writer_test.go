package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denismitr/abook/internal/codec"
)

func rows(names ...string) []codec.Row {
	out := make([]codec.Row, 0, len(names))
	for i, n := range names {
		out = append(out, codec.Row{
			ID:     uint64(i + 1),
			Fields: [codec.FieldCount]string{n, "phone", "email", "address", "birthday"},
		})
	}
	return out
}

func encoded(t *testing.T, c codec.Codec, rs []codec.Row) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf, rs))
	return buf.String()
}

func enqueueAndWait(t *testing.T, w *Writer, rs []codec.Row) error {
	t.Helper()
	result := make(chan error, 1)
	require.NoError(t, w.Enqueue(rs, func(err error) { result <- err }))
	return <-result
}

func TestWriter_WritesSnapshot(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		t.Run(map[bool]string{true: "atomic", false: "in place"}[atomic], func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "contacts.txt")
			w := NewWriter(path, codec.Legacy{}, Options{QueueSize: 4, Atomic: atomic, Logger: zerolog.Nop()})
			w.Start()

			require.NoError(t, enqueueAndWait(t, w, rows("Ann", "Bo")))
			require.NoError(t, enqueueAndWait(t, w, rows("Ann")))
			require.NoError(t, w.Close())

			b, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "Ann,phone,email,address,birthday\n", string(b))

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temporary file must not be left behind")
		})
	}
}

func TestWriter_CloseDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	w := NewWriter(path, codec.Framed{}, Options{QueueSize: 64, Atomic: true, Logger: zerolog.Nop()})
	w.Start()

	var mu sync.Mutex
	calls := 0
	snapshots := [][]codec.Row{rows("a"), rows("a", "b"), rows("a", "b", "c"), rows("b", "c")}
	for _, s := range snapshots {
		require.NoError(t, w.Enqueue(s, func(err error) {
			assert.NoError(t, err)
			mu.Lock()
			calls++
			mu.Unlock()
		}))
	}

	require.NoError(t, w.Close())
	assert.Equal(t, len(snapshots), calls)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, encoded(t, codec.Framed{}, snapshots[len(snapshots)-1]), string(b))
}

func TestWriter_EnqueueAfterClose(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "c.txt"), codec.Legacy{}, Options{Logger: zerolog.Nop()})
	w.Start()
	require.NoError(t, w.Close())

	err := w.Enqueue(rows("a"), nil)
	assert.True(t, errors.Is(err, ErrWriterClosed))
	assert.True(t, errors.Is(w.Close(), ErrWriterClosed))
}

func TestWriter_FailedWriteIsReported(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		path := filepath.Join(t.TempDir(), "missing-dir", "contacts.txt")
		w := NewWriter(path, codec.Legacy{}, Options{Atomic: atomic, Logger: zerolog.Nop()})
		w.Start()

		err := enqueueAndWait(t, w, rows("Ann"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFileWriteFailed), err.Error())

		require.NoError(t, w.Close())
	}
}

func TestWriter_SkipsUnchangedSnapshot(t *testing.T) {
	// a write into a missing directory would fail, so success proves it was skipped
	path := filepath.Join(t.TempDir(), "missing-dir", "contacts.txt")
	w := NewWriter(path, codec.Legacy{}, Options{Logger: zerolog.Nop()})
	w.Remember([]byte(encoded(t, codec.Legacy{}, rows("Ann"))))
	w.Start()
	defer w.Close()

	assert.NoError(t, enqueueAndWait(t, w, rows("Ann")))
	assert.Error(t, enqueueAndWait(t, w, rows("Bo")))
}

func TestWriter_EncodeErrorIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	w := NewWriter(path, codec.Framed{}, Options{Logger: zerolog.Nop()})
	w.Start()
	defer w.Close()

	err := enqueueAndWait(t, w, []codec.Row{{Fields: [codec.FieldCount]string{"no", "id", "", "", ""}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, codec.ErrCorrupted))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
