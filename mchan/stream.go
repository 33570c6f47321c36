package mchan

import (
	"context"

	"github.com/creachadair/mvar"
)

// An item is one element of a stream. It is immutable once constructed.
type item[T any] struct {
	value T
	next  hole[T]
}

// A hole is the link from one point in a stream to the item that follows it.
// A hole starts out empty and is filled exactly once, by the writer that
// extends the stream past it. Thereafter it is shared read-only by every read
// end positioned at it.
//
// The contents of a hole are only ever observed with a non-destructive read,
// never taken: the same item may be the next element for several channels.
type hole[T any] struct {
	box *mvar.Box[*item[T]]
}

func newHole[T any]() hole[T] { return hole[T]{box: mvar.New[*item[T]]()} }

// fill publishes an item with value v followed by next into h. Any readers
// blocked in await on h are woken.
func (h hole[T]) fill(v T, next hole[T]) {
	h.box.Put(&item[T]{value: v, next: next})
}

// await blocks until h has been filled, or ctx ends, and returns its item.
func (h hole[T]) await(ctx context.Context) (*item[T], error) {
	return h.box.ReadContext(ctx)
}
