package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarkoPoloResearchLab/songrequests/internal/app"
	"github.com/MarkoPoloResearchLab/songrequests/internal/config"
	"github.com/MarkoPoloResearchLab/songrequests/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "sweep",
		Short:         "Expire overdue song requests once and exit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if err := loaded.ValidateWorker(); err != nil {
				return err
			}
			*cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, *cfg)
		},
	}
	config.RegisterStorageFlags(cmd)
	return cmd
}

func runSweep(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	gateways, err := app.BuildGateways(ctx, cfg, logger)
	if err != nil {
		return err
	}
	publisher, closePublisher, err := app.Publishers(cfg, nil)
	if err != nil {
		return fmt.Errorf("event publishers: %w", err)
	}
	defer func() { _ = closePublisher() }()

	service, err := app.NewService(cfg, store, gateways, publisher, logger)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}
	sweep, closeSweeper, err := app.NewSweeper(cfg, service, logger)
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}
	defer func() { _ = closeSweeper() }()

	report, err := sweep.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Info("sweep finished",
		zap.Int("examined", report.Examined),
		zap.Int("expired", report.Expired),
		zap.Int("already_resolved", report.AlreadyResolved),
		zap.Int("not_due", report.NotDue),
		zap.Int("failed", report.Failed),
		zap.Bool("lock_skipped", report.LockSkipped),
	)
	if report.Failed > 0 {
		return fmt.Errorf("%d requests failed to expire", report.Failed)
	}
	return nil
}
