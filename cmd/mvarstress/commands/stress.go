package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/creachadair/mvar/mchan"
)

// ErrViolation is reported when a channel delivers values out of order, more
// than once, or not at all.
var ErrViolation = errors.New("delivery violation")

// StressConfig describes a stress run. See [RunStress].
type StressConfig struct {
	Producers int // number of concurrent writers
	Consumers int // number of readers sharing the original channel
	Dups      int // number of duplicates, each with a single reader
	Count     int // number of values written by each producer
}

func (c StressConfig) validate() error {
	if c.Producers < 1 {
		return fmt.Errorf("%w: need at least one producer", ErrInvalidArgs)
	}
	if c.Consumers < 0 || c.Dups < 0 || c.Count < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidArgs)
	}
	return nil
}

// StressResult reports the outcome of a stress run.
type StressResult struct {
	RunID   string
	Written int           // total values written
	Shared  int           // values read by the consumers of the original channel
	PerDup  []int         // values read from each duplicate
	Elapsed time.Duration // wall time for the run
}

type message struct{ producer, seq int }

// RunStress writes values from cfg.Producers goroutines to a single channel.
// The consumers of the original channel split the values between them; each
// duplicate, taken before any values are written, has one consumer that must
// see every value. Every consumer checks that each producer's values arrive in
// the order written, and that no value is delivered twice on one read path.
//
// If ctx ends before the run completes, RunStress reports the context error.
// Otherwise any violations are reported together as a single error wrapping
// ErrViolation, along with the result.
func RunStress(ctx context.Context, cfg StressConfig) (*StressResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	res := &StressResult{RunID: uuid.NewString(), PerDup: make([]int, cfg.Dups)}
	logger := slog.With("run", res.RunID)
	logger.Info("starting stress run",
		"producers", cfg.Producers, "consumers", cfg.Consumers,
		"dups", cfg.Dups, "count", cfg.Count)

	ch := mchan.New[message]()
	dups := make([]*mchan.Chan[message], cfg.Dups)
	for i := range dups {
		dups[i] = ch.Dup()
	}

	total := cfg.Producers * cfg.Count
	var (
		μ       sync.Mutex
		errs    *multierror.Error
		seen    = make([]atomic.Int32, total)
		tickets atomic.Int64 // claimed by shared consumers, one per read
		shared  atomic.Int64
	)
	violation := func(err error) {
		μ.Lock()
		defer μ.Unlock()
		errs = multierror.Append(errs, err)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range cfg.Producers {
		g.Go(func() error {
			for s := range cfg.Count {
				if err := ch.WriteContext(gctx, message{p, s}); err != nil {
					return fmt.Errorf("producer %d: %w", p, err)
				}
			}
			logger.Debug("producer finished", "producer", p)
			return nil
		})
	}

	for c := range cfg.Consumers {
		g.Go(func() error {
			last := make([]int, cfg.Producers)
			for i := range last {
				last[i] = -1
			}

			// N.B. Claim a ticket before each read, so that the consumers
			// together perform exactly total reads and none is left waiting.
			n := 0
			for tickets.Add(1) <= int64(total) {
				m, err := ch.ReadContext(gctx)
				if err != nil {
					return fmt.Errorf("consumer %d: %w", c, err)
				}
				if m.seq <= last[m.producer] {
					violation(fmt.Errorf("%w: consumer %d got producer %d value %d after %d",
						ErrViolation, c, m.producer, m.seq, last[m.producer]))
				}
				last[m.producer] = m.seq
				if k := seen[m.producer*cfg.Count+m.seq].Add(1); k != 1 {
					violation(fmt.Errorf("%w: producer %d value %d delivered %d times",
						ErrViolation, m.producer, m.seq, k))
				}
				shared.Add(1)
				n++
			}
			logger.Debug("consumer finished", "consumer", c, "read", n)
			return nil
		})
	}

	for d, dup := range dups {
		g.Go(func() error {
			next := make([]int, cfg.Producers)
			for range total {
				m, err := dup.ReadContext(gctx)
				if err != nil {
					return fmt.Errorf("duplicate %d: %w", d, err)
				}
				if m.seq != next[m.producer] {
					violation(fmt.Errorf("%w: duplicate %d got producer %d value %d, want %d",
						ErrViolation, d, m.producer, m.seq, next[m.producer]))
				}
				next[m.producer] = m.seq + 1
				res.PerDup[d]++
			}
			logger.Debug("duplicate finished", "dup", d)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("stress run failed", "error", err)
		return nil, err
	}
	res.Written = total
	res.Shared = int(shared.Load())
	res.Elapsed = time.Since(start)

	if cfg.Consumers > 0 && res.Shared != total {
		violation(fmt.Errorf("%w: shared consumers read %d values, want %d", ErrViolation, res.Shared, total))
	}
	if err := errs.ErrorOrNil(); err != nil {
		logger.Error("stress run found violations", "count", errs.Len())
		return res, err
	}
	logger.Info("stress run complete", "written", total, "elapsed", res.Elapsed)
	return res, nil
}

func NewStressCmd() *cobra.Command {
	var cfg StressConfig
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Check FIFO delivery and multicast duplication under contention",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cc.Context(), timeout)
			defer cancel()

			res, err := RunStress(ctx, cfg)
			if res != nil {
				fmt.Fprintf(cc.OutOrStdout(), "run %s: wrote %d, shared consumers read %d, duplicates read %v in %v\n",
					res.RunID, res.Written, res.Shared, res.PerDup, res.Elapsed.Round(time.Millisecond))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cc.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Producers, "producers", 4, "Number of concurrent producers")
	cmd.Flags().IntVar(&cfg.Consumers, "consumers", 4, "Number of consumers sharing the channel")
	cmd.Flags().IntVar(&cfg.Dups, "dups", 2, "Number of duplicate channels, each with one consumer")
	cmd.Flags().IntVar(&cfg.Count, "count", 10000, "Number of values written by each producer")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up if the run takes longer than this")

	return cmd
}
