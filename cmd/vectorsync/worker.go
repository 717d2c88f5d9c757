package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		once         bool
		pollInterval time.Duration
		concurrency  int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the embedding worker",
		Long: `Worker polls every vectorizer's queue, embeds pending rows, and writes
the results to the embedding stores. Multiple workers may run against the
same database; queue claims never overlap.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			wcfg := cfg.Worker
			wcfg.OnceAndExit = once
			if pollInterval > 0 {
				wcfg.PollInterval = pollInterval
			}
			if concurrency > 0 {
				wcfg.Concurrency = concurrency
			}

			w := worker.New(db, wcfg, version, logger)
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass over all vectorizers and exit")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "override the poll interval")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override embedding request concurrency")

	return cmd
}
