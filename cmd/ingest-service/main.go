package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailreply/internal/config"
	"mailreply/internal/logger"
	"mailreply/pkg/logging"
)

const serviceName = "ingest-service"

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Mailbox ingestion for the auto-reply pipeline",
		Long:  "Ingest Service polls every configured mailbox, records new messages and enqueues them for reply",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(onceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *logger.SugaredLogger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Info("No config file given, reading configuration from the environment only")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}
	if len(cfg.Accounts) == 0 {
		return nil, nil, fmt.Errorf("no mailbox accounts configured")
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}
	log.SetServiceName(serviceName)
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion passes on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, serviceName)

			log.InfowCtx(ctx, "Starting Ingest Service", "accounts", len(cfg.Accounts))

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ingestion pass over every account and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, serviceName)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			failed := 0
			for _, r := range app.service.IngestAll(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tfetched=%d created=%d requeued=%d skipped=%d suppressed=%d failed=%d\n",
					r.Account, r.Fetched, r.Created, r.Requeued, r.Skipped, r.Suppressed, r.Failed)
				if r.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\terror: %v\n", r.Account, r.Err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d account(s) failed", failed)
			}
			return nil
		},
	}
}
