package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const programName = "rebuild"

var globalFlags = struct {
	debug       bool
	concurrency int
}{}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Recompute hospital dashboard snapshots from the ledger",
		Long: "rebuild overwrites cached dashboard snapshots with values recomputed from the\n" +
			"allocation ledger and the donation registry. It reads the same environment as\n" +
			"the allocator server.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&globalFlags.concurrency, "concurrency", 0, "hospitals rebuilt in parallel (default: REBUILD_CONCURRENCY)")

	rootCmd.AddCommand(
		hospitalCommand(),
		allCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
