package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/creachadair/mvar/mchan"
)

// Values used by RunUnget.
const (
	ungetPushed  = "pushed"
	ungetWritten = "written"
)

// UngetReport describes the outcome of [RunUnget].
type UngetReport struct {
	// Blocked is true if the reader was already waiting on the empty channel,
	// so that Unget could not complete within its deadline.
	Blocked bool

	// ReaderGot is the value received by the reader.
	ReaderGot string
}

// RunUnget starts a reader on an empty channel, waits for settle to let it
// block, and then tries to push a value back onto the channel, waiting at
// most wait for that to succeed.
//
// If the reader has blocked, it holds the read end of the channel and Unget
// cannot complete; RunUnget then writes a value to release the reader, which
// receives the written value rather than the pushed one. If Unget wins the
// race instead, the reader receives the pushed value.
func RunUnget(ctx context.Context, settle, wait time.Duration) (*UngetReport, error) {
	ch := mchan.New[string]()

	type result struct {
		v   string
		err error
	}
	got := make(chan result, 1)
	go func() {
		v, err := ch.ReadContext(ctx)
		got <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(settle):
	}

	uctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	rep := new(UngetReport)
	err := ch.Unget(uctx, ungetPushed)
	switch {
	case err == nil:
		slog.Info("unget completed before the reader blocked")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		rep.Blocked = true
		slog.Warn("unget cannot complete while a reader is blocked on the empty channel", "waited", wait)
		if err := ch.WriteContext(ctx, ungetWritten); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-got:
		if r.err != nil {
			return nil, fmt.Errorf("reader: %w", r.err)
		}
		rep.ReaderGot = r.v
	}
	slog.Info("reader released", "value", rep.ReaderGot)
	return rep, nil
}

func NewUngetCmd() *cobra.Command {
	var settle, wait, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "unget",
		Short: "Demonstrate that a pushed-back value cannot reach a blocked reader",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cc.Context(), timeout)
			defer cancel()

			rep, err := RunUnget(ctx, settle, wait)
			if err != nil {
				return err
			}
			if rep.Blocked {
				fmt.Fprintf(cc.OutOrStdout(), "unget blocked behind the waiting reader; reader received %q\n", rep.ReaderGot)
			} else {
				fmt.Fprintf(cc.OutOrStdout(), "unget completed first; reader received %q\n", rep.ReaderGot)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", 10*time.Millisecond, "Time to let the reader block before pushing back")
	cmd.Flags().DurationVar(&wait, "wait", 100*time.Millisecond, "How long to let unget try before giving up")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up if the run takes longer than this")

	return cmd
}
