package mchan_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/mvar/mchan"
	"github.com/fortytw2/leaktest"
)

func mustRead[T comparable](t *testing.T, c *mchan.Chan[T], want T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := c.ReadContext(ctx)
	if err != nil {
		t.Fatalf("Read: unexpected error: %v (want %v)", err, want)
	}
	if got != want {
		t.Errorf("Read: got %v, want %v", got, want)
	}
}

func mustBeEmpty[T any](t *testing.T, c *mchan.Chan[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if v, err := c.ReadContext(ctx); err == nil {
		t.Errorf("Read: got %v, want channel empty", v)
	}
}

func TestChan_FIFO(t *testing.T) {
	c := mchan.New[int]()
	mustBeEmpty(t, c)

	c.WriteAll(1, 2, 3, 4, 5)
	c.Write(6)
	for want := 1; want <= 6; want++ {
		mustRead(t, c, want)
	}
	mustBeEmpty(t, c)
}

func TestChan_Scenario(t *testing.T) {
	c := mchan.New[string]()
	c.Write("A")
	c.Write("B")
	mustRead(t, c, "A")

	// The duplicate starts at the tail: after B, before C.
	d := c.Dup()
	c.Write("C")
	mustRead(t, c, "B")
	mustRead(t, c, "C")
	mustRead(t, d, "C")

	mustBeEmpty(t, c)
	mustBeEmpty(t, d)
}

func TestChan_Multicast(t *testing.T) {
	c := mchan.New[string]()
	c.Write("v1")
	d := c.Dup()
	c.Write("v2")

	// The original sees everything; the duplicate sees only what was written
	// after it was made.
	mustRead(t, c, "v1")
	mustRead(t, c, "v2")
	mustRead(t, d, "v2")
	mustBeEmpty(t, d)

	// Writes to either channel reach both, and reading one does not consume
	// the value from the other.
	d.Write("v3")
	mustRead(t, d, "v3")
	mustRead(t, c, "v3")

	// A duplicate of a duplicate shares the same stream.
	e := d.Dup()
	c.Write("v4")
	for _, ch := range []*mchan.Chan[string]{c, d, e} {
		mustRead(t, ch, "v4")
	}
}

func TestChan_Blocking(t *testing.T) {
	defer leaktest.Check(t)()

	c := mchan.New[int]()
	done := make(chan int)
	go func() { done <- c.Read() }()

	select {
	case v := <-done:
		t.Fatalf("Read returned %d from an empty channel", v)
	case <-time.After(10 * time.Millisecond):
		// OK, still blocked
	}

	c.Write(99)
	select {
	case got := <-done:
		if got != 99 {
			t.Errorf("Read: got %d, want 99", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for Read to return")
	}
	mustBeEmpty(t, c)
}

func TestChan_ReadContext(t *testing.T) {
	defer leaktest.Check(t)()

	c := mchan.New[string]()

	t.Run("Timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if v, err := c.ReadContext(ctx); v != "" || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ReadContext: got %q, %v; want empty, %v", v, err, context.DeadlineExceeded)
		}

		// A reader that gave up must not have disturbed the read position.
		c.Write("after")
		mustRead(t, c, "after")
	})

	t.Run("Cancelled", func(t *testing.T) {
		dead, cancel := context.WithCancel(context.Background())
		cancel()

		c.Write("kept")
		if _, err := c.ReadContext(dead); !errors.Is(err, context.Canceled) {
			t.Errorf("ReadContext: got %v, want %v", err, context.Canceled)
		}
		if err := c.WriteContext(dead, "lost"); !errors.Is(err, context.Canceled) {
			t.Errorf("WriteContext: got %v, want %v", err, context.Canceled)
		}
		mustRead(t, c, "kept")
		mustBeEmpty(t, c)
	})
}

func TestChan_All(t *testing.T) {
	defer leaktest.Check(t)()

	c := mchan.New[int]()
	c.WriteAll(1, 2, 3, 4, 5)

	var got []int
	for v := range c.All(context.Background()) {
		got = append(got, v)
		if v == 3 {
			break
		}
	}
	if want := []int{1, 2, 3}; !slices.Equal(got, want) {
		t.Errorf("All: got %v, want %v", got, want)
	}

	// The iterator ends when its context does, leaving unread values.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got = slices.Collect(c.All(ctx))
	if want := []int{4, 5}; !slices.Equal(got, want) {
		t.Errorf("All: got %v, want %v", got, want)
	}
}

func TestChan_Unget(t *testing.T) {
	ctx := context.Background()
	c := mchan.New[int]()
	d := c.Dup()

	c.WriteAll(1, 2)
	if err := c.Unget(ctx, 0); err != nil {
		t.Fatalf("Unget: unexpected error: %v", err)
	}
	for want := range 3 {
		mustRead(t, c, want)
	}

	// Unget on an empty channel.
	if err := c.Unget(ctx, 10); err != nil {
		t.Fatalf("Unget: unexpected error: %v", err)
	}
	c.Write(11)
	mustRead(t, c, 10)
	mustRead(t, c, 11)

	// The duplicate is not affected by pushing back onto the original.
	for _, want := range []int{1, 2, 11} {
		mustRead(t, d, want)
	}
	mustBeEmpty(t, d)
}

// Verify that with many concurrent writers and readers, every value is
// delivered exactly once, and each writer's values arrive in order.
func TestChan_Concurrent(t *testing.T) {
	defer leaktest.Check(t)()

	type msg struct{ src, seq int }
	const (
		numWriters = 8
		numReaders = 4
		numValues  = 500
		total      = numWriters * numValues
	)

	c := mchan.New[msg]()
	d := c.Dup()

	var wg sync.WaitGroup
	for w := range numWriters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range numValues {
				c.Write(msg{w, i})
			}
		}()
	}

	// Readers sharing c split the values between them. Each reader must see
	// the values of each writer in increasing order.
	var μ sync.Mutex
	seen := make(map[msg]int)
	perReader := total / numReaders
	for r := range numReaders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := make([]int, numWriters)
			for i := range last {
				last[i] = -1
			}
			for range perReader {
				m := c.Read()
				if m.seq <= last[m.src] {
					t.Errorf("Reader %d: writer %d value %d after %d", r, m.src, m.seq, last[m.src])
				}
				last[m.src] = m.seq
				μ.Lock()
				seen[m]++
				μ.Unlock()
			}
		}()
	}

	// The duplicate has a single reader, which must see every value with each
	// writer's values exactly in sequence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := make([]int, numWriters)
		for range total {
			m := d.Read()
			if m.seq != next[m.src] {
				t.Errorf("Duplicate: writer %d got %d, want %d", m.src, m.seq, next[m.src])
			}
			next[m.src] = m.seq + 1
		}
	}()

	wg.Wait()

	if len(seen) != total {
		t.Errorf("Got %d distinct values, want %d", len(seen), total)
	}
	for m, n := range seen {
		if n != 1 {
			t.Errorf("Value %+v delivered %d times", m, n)
		}
	}
	mustBeEmpty(t, c)
	mustBeEmpty(t, d)
}
