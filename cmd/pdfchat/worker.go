package main

import (
	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/app"
	"github.com/markdave123-py/pdfchat/internal/services/notifier"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ingestion workers",
	Long:  `Drains the job queue and reports every finished job to the API at callback_url.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSharedQueue(); err != nil {
			return err
		}
		ctx := cmd.Context()

		a, err := app.NewApp(ctx, cfg, appLog)
		if err != nil {
			return err
		}
		defer a.Close()

		n := notifier.NewHTTPNotifier(cfg.CallbackURL, cfg.IndexTimeout, appLog)
		appLog.Info().Int("concurrency", cfg.WorkerConcurrency).Str("callback", cfg.CallbackURL).Msg("workers starting")
		return a.Ingestor(n).Run(ctx)
	},
}
