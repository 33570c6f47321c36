// Package mvar defines a single-slot blocking container that can be shared by
// multiple goroutines.
//
// A [Box] is either empty or full. Goroutines that take from an empty box, or
// put to a full one, block until another goroutine makes progress possible.
// Blocked goroutines are served strictly in the order they arrived, so that no
// goroutine waiting on a box is starved while others keep using it.
package mvar

import (
	"context"
	"sync"

	"github.com/creachadair/mds/queue"
)

// A Box is a synchronized container that is either empty or holds a single
// value of type T. A zero Box is empty and ready for use, but must not be
// copied after its first use.
//
// The Put method fills an empty box, and the Take method empties a full one.
// The Read method reports the contents of a full box without emptying it. Each
// of these blocks until the box is in a state that permits it to complete.
//
// Calls that block are queued in arrival order. When a value or the slot
// becomes available, it is handed directly to the goroutine at the front of
// the queue before that goroutine is woken, so a later arrival cannot
// intervene and take it first. Takes, reads, and swaps share one queue; puts
// have their own.
type Box[T any] struct {
	μ    sync.Mutex
	x    T
	full bool

	takers  queue.Queue[*waiter[T]] // blocked Take, Read, and Swap calls
	putters queue.Queue[*waiter[T]] // blocked Put calls

	// Counts of queued waiters that have not given up.
	nTake, nPut int

	// Counts of queued waiters that have given up. Abandoned waiters stay
	// queued until a handoff skips them, or until they outnumber the live
	// waiters and the queue is compacted.
	goneTake, gonePut int
}

// New constructs a new empty Box.
func New[T any]() *Box[T] { return new(Box[T]) }

// NewFull constructs a new Box that holds v.
func NewFull[T any](v T) *Box[T] { return &Box[T]{x: v, full: true} }

// Take blocks until b is full, then empties b and returns its contents.
func (b *Box[T]) Take() T {
	v, _ := b.wait(context.Background(), opTake, *new(T))
	return v
}

// TakeContext is as Take, but gives up and reports ctx.Err() if ctx ends
// before a value is delivered. If TakeContext reports an error, b was not
// modified.
func (b *Box[T]) TakeContext(ctx context.Context) (T, error) {
	return b.wait(ctx, opTake, *new(T))
}

// Put blocks until b is empty, then fills b with v.
func (b *Box[T]) Put(v T) { b.wait(context.Background(), opPut, v) }

// PutContext is as Put, but gives up and reports ctx.Err() if ctx ends before
// v is stored. If PutContext reports an error, v was not stored.
func (b *Box[T]) PutContext(ctx context.Context, v T) error {
	_, err := b.wait(ctx, opPut, v)
	return err
}

// Read blocks until b is full, then returns its contents without emptying b.
// Read is atomic with respect to other operations on b: No other goroutine
// can remove the value between its arrival and the return of Read.
func (b *Box[T]) Read() T {
	v, _ := b.wait(context.Background(), opRead, *new(T))
	return v
}

// ReadContext is as Read, but gives up and reports ctx.Err() if ctx ends
// before a value is available.
func (b *Box[T]) ReadContext(ctx context.Context) (T, error) {
	return b.wait(ctx, opRead, *new(T))
}

// Swap blocks until b is full, then replaces its contents with v and returns
// the previous contents. The box does not become empty in between, so no
// other goroutine can observe or claim the slot during the exchange.
func (b *Box[T]) Swap(v T) T {
	old, _ := b.wait(context.Background(), opSwap, v)
	return old
}

// TryTake empties b and returns its contents if b is full. Otherwise it
// returns a zero value and false without blocking.
func (b *Box[T]) TryTake() (T, bool) {
	b.μ.Lock()
	defer b.μ.Unlock()
	return b.tryLocked(opTake, *new(T))
}

// TryPut stores v into b and reports true if b is empty. Otherwise it reports
// false without blocking.
func (b *Box[T]) TryPut(v T) bool {
	b.μ.Lock()
	defer b.μ.Unlock()
	_, ok := b.tryLocked(opPut, v)
	return ok
}

// TryRead returns the contents of b and true if b is full. Otherwise it
// returns a zero value and false without blocking.
func (b *Box[T]) TryRead() (T, bool) {
	b.μ.Lock()
	defer b.μ.Unlock()
	return b.tryLocked(opRead, *new(T))
}

// IsEmpty reports whether b is empty at the moment of the call.
func (b *Box[T]) IsEmpty() bool {
	b.μ.Lock()
	defer b.μ.Unlock()
	return !b.full
}

// Waiting reports the number of goroutines currently blocked waiting to take
// from (or read or swap) b, and the number blocked waiting to put to b.
func (b *Box[T]) Waiting() (takers, putters int) {
	b.μ.Lock()
	defer b.μ.Unlock()
	return b.nTake, b.nPut
}

// wait performs op on b, blocking until it completes or ctx ends.
func (b *Box[T]) wait(ctx context.Context, op opKind, v T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	b.μ.Lock()
	if out, ok := b.tryLocked(op, v); ok {
		b.μ.Unlock()
		return out, nil
	}
	w := &waiter[T]{op: op, v: v, ready: make(chan struct{})}
	if op == opPut {
		b.putters.Add(w)
		b.nPut++
	} else {
		b.takers.Add(w)
		b.nTake++
	}
	b.μ.Unlock()

	select {
	case <-w.ready:
		return w.v, nil
	case <-ctx.Done():
		b.μ.Lock()
		defer b.μ.Unlock()

		// N.B. The handoff may have landed between ctx ending and our
		// re-acquiring the lock. If so, the operation has already taken
		// effect and must be reported as such.
		if w.done {
			return w.v, nil
		}
		w.gone = true
		w.v = zero // release the caller's value
		if op == opPut {
			b.nPut--
			b.gonePut++
			if b.gonePut > b.nPut {
				compact(&b.putters)
				b.gonePut = 0
			}
		} else {
			b.nTake--
			b.goneTake++
			if b.goneTake > b.nTake {
				compact(&b.takers)
				b.goneTake = 0
			}
		}
		return zero, ctx.Err()
	}
}

// tryLocked attempts op without blocking, and reports whether it succeeded.
// The caller must hold b.μ.
//
// When b is full the take queue is empty, and when b is empty the put queue
// is empty (see settleLocked), so an immediate success here never overtakes
// a queued waiter.
func (b *Box[T]) tryLocked(op opKind, v T) (T, bool) {
	var zero T
	switch op {
	case opPut:
		if b.full {
			return zero, false
		}
		b.x, b.full = v, true
		b.settleLocked()
		return zero, true

	case opTake:
		if !b.full {
			return zero, false
		}
		out := b.x
		b.x, b.full = zero, false
		b.settleLocked()
		return out, true

	case opRead:
		if !b.full {
			return zero, false
		}
		return b.x, true

	case opSwap:
		if !b.full {
			return zero, false
		}
		out := b.x
		b.x = v
		return out, true

	default:
		panic("unknown box operation")
	}
}
