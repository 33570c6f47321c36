package mvar

import "github.com/creachadair/mds/queue"

type opKind int

const (
	opTake opKind = iota
	opRead
	opSwap
	opPut
)

// A waiter records a single blocked call on a Box.
//
// All fields other than ready are protected by the μ of the box on which the
// waiter is queued. The ready channel is closed once the operation has been
// completed on the waiter's behalf, after which v holds its result.
type waiter[T any] struct {
	op    opKind
	v     T // for put and swap, the value to store; on completion, the result
	ready chan struct{}
	done  bool // the operation was completed by a handoff
	gone  bool // the caller gave up before a handoff
}

// complete marks w done and wakes its caller.
func (w *waiter[T]) complete() {
	w.done = true
	close(w.ready)
}

// settleLocked hands the contents or the slot of b to queued waiters until no
// waiter at the front of the relevant queue can make progress.
// The caller must hold b.μ.
//
// Each transition of b between empty and full completes at most one waiter of
// the opposite kind. Reads and swaps do not change the state of b, so several
// of them at the front of the take queue may be served by a single put.
func (b *Box[T]) settleLocked() {
	for {
		if b.full {
			w, ok := popLive(&b.takers, &b.goneTake)
			if !ok {
				return
			}
			b.nTake--
			switch w.op {
			case opRead:
				w.v = b.x
			case opSwap:
				w.v, b.x = b.x, w.v
			default:
				var zero T
				w.v = b.x
				b.x, b.full = zero, false
			}
			w.complete()
		} else {
			w, ok := popLive(&b.putters, &b.gonePut)
			if !ok {
				return
			}
			b.nPut--
			b.x, b.full = w.v, true
			var zero T
			w.v = zero // release our reference to the stored value
			w.complete()
		}
	}
}

// popLive removes and returns the first waiter in q that has not given up,
// discarding any abandoned waiters ahead of it. The count of abandoned
// waiters in q is decremented for each one discarded.
func popLive[T any](q *queue.Queue[*waiter[T]], gone *int) (*waiter[T], bool) {
	for {
		w, ok := q.Pop()
		if !ok || !w.gone {
			return w, ok
		}
		*gone--
	}
}

// compact removes abandoned waiters from q, preserving the order of the rest.
func compact[T any](q *queue.Queue[*waiter[T]]) {
	for range q.Len() {
		w, _ := q.Pop()
		if !w.gone {
			q.Add(w)
		}
	}
}
