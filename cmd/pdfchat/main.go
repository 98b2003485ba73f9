package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/logger"
)

var (
	configFile string

	cfg    *config.Config
	appLog *log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pdfchat",
	Short:         "Chat with your PDFs",
	Long:          `pdfchat ingests uploaded PDFs into a vector index and answers questions grounded in them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		appLog = logger.New(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (env PDFCHAT_CONFIG)")
	rootCmd.AddCommand(apiCmd, workerCmd, standaloneCmd)
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("pdfchat failed")
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-c:
			log.Info().Msg("shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
