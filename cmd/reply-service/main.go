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

const serviceName = "reply-service"

var (
	configFile string
	workers    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Reply consumer for the auto-reply pipeline",
		Long:  "Reply Service pops queued messages, asks the completion service for a reply and sends it through the mapped relay",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Number of consumer workers (overrides reply.workers)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reply workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Warn("Failed to load config: %v", err)
				return err
			}
			if workers > 0 {
				cfg.Reply.Workers = workers
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Warn("Failed to init logger: %v", err)
				return err
			}
			log.SetServiceName(serviceName)
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, serviceName)

			log.InfowCtx(ctx, "Starting Reply Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return fmt.Errorf("reply service: %w", err)
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}
