package abook

import (
	"context"
	"sync"
)

// Op tracks one mutation. The in-memory change is visible as soon as the
// mutating call returns; the Op completes once the backing file has been
// written, or immediately when nothing had to change.
type Op struct {
	id      ID
	applied bool

	once sync.Once
	done chan struct{}
	err  error
}

func newOp(id ID, applied bool) *Op {
	return &Op{id: id, applied: applied, done: make(chan struct{})}
}

func finishedOp(id ID, applied bool, err error) *Op {
	op := newOp(id, applied)
	op.finish(err)
	return op
}

func (op *Op) finish(err error) {
	op.once.Do(func() {
		op.err = err
		close(op.done)
	})
}

// ID is the id of the affected entry, zero when nothing matched.
func (op *Op) ID() ID { return op.id }

// Applied reports whether the collection changed.
func (op *Op) Applied() bool { return op.applied }

func (op *Op) Done() <-chan struct{} { return op.done }

// Err returns the write error once the Op is done, nil before that.
func (op *Op) Err() error {
	select {
	case <-op.done:
		return op.err
	default:
		return nil
	}
}

func (op *Op) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
