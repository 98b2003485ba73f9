package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/app"
	"github.com/markdave123-py/pdfchat/internal/services/notifier"
)

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run the API and the workers in one process",
	Long:  `Runs the API and the worker pool together. Completions are delivered in-process, so every backend, Badger included, is allowed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := app.NewApp(ctx, cfg, appLog)
		if err != nil {
			return err
		}
		defer a.Close()

		sweeper := a.Sweeper()
		if err := sweeper.Start(cfg.StatusSweepSchedule); err != nil {
			return err
		}
		defer sweeper.Stop()

		ingestor := a.Ingestor(notifier.NewLocalNotifier(a.Tracker, appLog))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ingestor.Run(gctx) })
		g.Go(func() error { return serve(gctx, a) })
		return g.Wait()
	},
}
