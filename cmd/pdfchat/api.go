package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/app"
)

const shutdownTimeout = 30 * time.Second

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API",
	Long:  `Serves uploads, status polling, the completion callback and chat. Ingestion runs in separate worker processes.`,
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

		sweeper := a.Sweeper()
		if err := sweeper.Start(cfg.StatusSweepSchedule); err != nil {
			return err
		}
		defer sweeper.Stop()

		return serve(ctx, a)
	},
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, a *app.App) error {
	srv := app.NewServer(cfg, app.NewRouter(cfg, a.Handlers()), appLog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
