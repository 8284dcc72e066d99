package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"replygate/internal/bootstrap"
	"replygate/internal/config"
	"replygate/pkg/logger"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "replygate-worker",
	Short: "Scan the inbox and queue drafted replies for approval",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *bootstrap.App) error {
			app.Scheduler.Run(ctx, func(ctx context.Context) { app.Pipeline.RunCycle(ctx) })
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan cycle and print its report",
	Long:  "Runs one scan cycle. Intended for cron or other external schedulers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *bootstrap.App) error {
			report := app.Pipeline.RunCycle(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		})
	},
}

func withApp(fn func(context.Context, *bootstrap.App) error) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("Starting replygate worker", zap.Strings("monitored_senders", cfg.Pipeline.MonitoredSenders))
	return fn(ctx, app)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory holding base.yaml and <CONFIG_ENV>.yaml")
	rootCmd.AddCommand(runCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
