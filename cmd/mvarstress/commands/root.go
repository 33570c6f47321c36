// Package commands implements the subcommands of the mvarstress tool.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/creachadair/mvar/internal/logging"
)

var (
	ErrLogHandlerFailed = errors.New("log handler failed")
	ErrInvalidArgs      = errors.New("invalid arguments")
)

func NewRootCmd(name, shortDesc, longDesc string) *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           name,
		Short:         shortDesc,
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       GetVersionString(),
	}

	cmd.PersistentFlags().StringVar(args.logLevel, "log_level", "info", "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(args.logFormat, "log_format", "auto", "Set the log format (auto, text, json, pretty)")

	cmd.PersistentPreRunE = func(cc *cobra.Command, _ []string) error {
		h, err := logging.CreateHandler(cc.ErrOrStderr(), args.GetLogLevel(), args.GetLogFormat())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogHandlerFailed, err)
		}

		slog.SetDefault(slog.New(h))

		slog.Debug("ready to go")

		return nil
	}

	cmd.AddCommand(
		NewStressCmd(),
		NewFairnessCmd(),
		NewUngetCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// pollUntil calls cond at short intervals until it reports true, or until
// ctx ends. It reports ctx.Err() if cond was not satisfied.
func pollUntil(ctx context.Context, cond func() bool) error {
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Microsecond):
		}
	}
	return nil
}
