package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarkoPoloResearchLab/songrequests/internal/app"
	"github.com/MarkoPoloResearchLab/songrequests/internal/config"
	"github.com/MarkoPoloResearchLab/songrequests/internal/events"
	"github.com/MarkoPoloResearchLab/songrequests/internal/httpapi"
	"github.com/MarkoPoloResearchLab/songrequests/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "songrequestd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "songrequestd",
		Short:         "Song request HTTP API with the expiration sweeper",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			*cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *cfg)
		},
	}
	config.RegisterServerFlags(cmd)
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
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

	hub := events.NewHub(logger)
	defer hub.Close()
	publisher, closePublisher, err := app.Publishers(cfg, hub)
	if err != nil {
		return fmt.Errorf("event publishers: %w", err)
	}
	defer func() { _ = closePublisher() }()

	service, err := app.NewService(cfg, store, gateways, publisher, logger)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}
	if err := service.ReconcileAll(ctx); err != nil {
		return fmt.Errorf("reconcile now playing: %w", err)
	}

	sweep, closeSweeper, err := app.NewSweeper(cfg, service, logger)
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}
	defer func() { _ = closeSweeper() }()

	server, err := httpapi.NewServer(service, hub, logger, httpapi.Config{
		AllowedOrigins:      cfg.AllowedOrigins,
		JWTSigningKey:       cfg.JWTSigningKey,
		JWTIssuer:           cfg.JWTIssuer,
		PublicBaseURL:       cfg.PublicBaseURL,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("sweeper starting", zap.Duration("interval", cfg.SweepInterval))
		if err := sweep.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.ListenAddr, server.Router(), cfg.ShutdownTimeout, logger)
	})
	err = group.Wait()
	logger.Info("shutdown complete")
	return err
}
