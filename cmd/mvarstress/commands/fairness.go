package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/creachadair/mvar"
)

// RunFairness queues n goroutines to take from an empty box, one at a time so
// that their arrival order is known, then puts the values 0..n-1 to the box in
// sequence. It returns the value received by each waiter, in arrival order.
//
// A fair box releases the waiters in the order they arrived, so waiter i
// receives value i. Any other outcome is reported as an error wrapping
// ErrViolation.
func RunFairness(ctx context.Context, n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one waiter", ErrInvalidArgs)
	}

	box := mvar.New[int]()
	got := make([]int, n)
	g, gctx := errgroup.WithContext(ctx)

	queued := func(want int) func() bool {
		return func() bool { tk, _ := box.Waiting(); return tk == want }
	}
	for i := range n {
		g.Go(func() error {
			v, err := box.TakeContext(gctx)
			if err != nil {
				return fmt.Errorf("waiter %d: %w", i, err)
			}
			got[i] = v
			return nil
		})
		if err := pollUntil(gctx, queued(i+1)); err != nil {
			g.Wait()
			return nil, err
		}
	}
	slog.Debug("all waiters queued", "waiters", n)

	start := time.Now()
	for v := range n {
		if err := box.PutContext(gctx, v); err != nil {
			break // the group reports the reason
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slog.Info("all waiters released", "waiters", n, "elapsed", time.Since(start))

	var errs *multierror.Error
	for i, v := range got {
		if v != i {
			errs = multierror.Append(errs, fmt.Errorf("%w: waiter %d received %d, want %d", ErrViolation, i, v, i))
		}
	}
	return got, errs.ErrorOrNil()
}

func NewFairnessCmd() *cobra.Command {
	var waiters int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "fairness",
		Short: "Check that blocked takers are served in arrival order",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cc.Context(), timeout)
			defer cancel()

			got, err := RunFairness(ctx, waiters)
			if err != nil {
				return err
			}
			fmt.Fprintf(cc.OutOrStdout(), "%d waiters released in arrival order\n", len(got))
			return nil
		},
	}

	cmd.Flags().IntVar(&waiters, "waiters", 64, "Number of goroutines waiting on the box")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up if the run takes longer than this")

	return cmd
}
