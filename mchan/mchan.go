// Package mchan implements an unbounded first-in, first-out channel for
// multiple producers and consumers, built entirely from [mvar.Box] values.
//
// A channel is a pair of boxes pointing into a shared stream: a linked chain
// of immutable items, terminated by an empty "hole" where the next item will
// be written. The write end holds the hole, and the read end holds the first
// unread position. Writers serialize on the write end and readers serialize on
// the read end, so a writer and a reader do not contend with each other unless
// the channel is empty.
//
// A channel can be duplicated with [Chan.Dup]. A duplicate has its own read
// end but shares the write end and the stream with the original, so every
// value written to either after the duplicate is made is delivered to both.
package mchan

import (
	"context"
	"iter"

	"github.com/creachadair/mvar"
)

// A Chan is an unbounded FIFO channel of values of type T. Use [New] to
// construct a Chan; a zero Chan is not ready for use.
//
// A Chan is safe for concurrent use by multiple goroutines. Writes never block
// for lack of capacity; reads block while the channel is empty.
type Chan[T any] struct {
	readEnd  *mvar.Box[hole[T]]
	writeEnd *mvar.Box[hole[T]] // shared with duplicates
}

// New constructs a new empty Chan.
func New[T any]() *Chan[T] {
	h := newHole[T]()
	return &Chan[T]{
		readEnd:  mvar.NewFull(h),
		writeEnd: mvar.NewFull(h),
	}
}

// Write adds v to the end of c. Concurrent writers are served in the order
// they arrive.
func (c *Chan[T]) Write(v T) { c.WriteContext(context.Background(), v) }

// WriteContext is as Write, but gives up and reports ctx.Err() if ctx ends
// while waiting for other writers. Once a write has begun it completes without
// blocking, so an error means v was not written.
func (c *Chan[T]) WriteContext(ctx context.Context, v T) error {
	next := newHole[T]()
	tail, err := c.writeEnd.TakeContext(ctx)
	if err != nil {
		return err
	}
	c.writeEnd.Put(next)

	// The value becomes visible to readers here, and not before.
	tail.fill(v, next)
	return nil
}

// WriteAll writes each of vs to c in order. Writes from other goroutines may
// be interleaved among them.
func (c *Chan[T]) WriteAll(vs ...T) {
	for _, v := range vs {
		c.Write(v)
	}
}

// Read removes and returns the value at the front of c, blocking until one is
// available. Concurrent readers are served in the order they arrive.
func (c *Chan[T]) Read() T {
	v, _ := c.ReadContext(context.Background())
	return v
}

// ReadContext is as Read, but gives up and reports ctx.Err() if ctx ends
// before a value is available. If ReadContext reports an error, no value was
// removed from c.
func (c *Chan[T]) ReadContext(ctx context.Context) (T, error) {
	var zero T
	head, err := c.readEnd.TakeContext(ctx)
	if err != nil {
		return zero, err
	}
	it, err := head.await(ctx)
	if err != nil {
		c.readEnd.Put(head) // N.B. restore the unchanged read position
		return zero, err
	}
	c.readEnd.Put(it.next)
	return it.value, nil
}

// All returns an iterator over the values read from c. The iterator blocks
// while c is empty, and ends when ctx ends or the caller stops iterating.
// Each value yielded is removed from c.
func (c *Chan[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := c.ReadContext(ctx)
			if err != nil || !yield(v) {
				return
			}
		}
	}
}

// Dup returns a new channel that shares the write end of c. The duplicate
// begins empty: it receives every value written to c (or to any duplicate of
// c) after Dup returns, in the same order as c does, but none written before.
//
// Reading from c does not remove values from the duplicate, nor vice versa.
func (c *Chan[T]) Dup() *Chan[T] {
	tail := c.writeEnd.Read()
	return &Chan[T]{readEnd: mvar.NewFull(tail), writeEnd: c.writeEnd}
}

// Unget pushes v back onto the front of c, so that it is the next value read
// from c. It does not affect any duplicates of c.
//
// Unget must hold the read end of c to do its work. A reader that is blocked
// in Read on an empty c holds the read end until some value is written, so
// Unget cannot complete while such a reader is waiting: the reader does not
// receive v, and Unget blocks until the reader is released by a Write (or ctx
// ends). If nothing else writes to c, this is a deadlock. Unget reports
// ctx.Err() if ctx ends before v is pushed back.
func (c *Chan[T]) Unget(ctx context.Context, v T) error {
	front := newHole[T]()
	head, err := c.readEnd.TakeContext(ctx)
	if err != nil {
		return err
	}
	front.fill(v, head)
	c.readEnd.Put(front)
	return nil
}
