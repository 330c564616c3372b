// Package main is the dmchat server entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dmchat",
		Short:        "One-to-one chat server with live presence",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
