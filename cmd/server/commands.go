package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/orchestrator"
	"github.com/KevinKickass/OpenPadCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var flagNoProvision bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its REST, websocket and gRPC APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, !flagNoProvision)
		},
	}
	cmd.Flags().BoolVar(&flagNoProvision, "no-provision", false, "skip resetting every pad at startup")
	return cmd
}

func runServe(cmd *cobra.Command, provision bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	lm, err := newLifecycle(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := lm.Start(ctx, provision); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = lm.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to start system: %w", err)
	}
	logger.Info("OpenPadCore started")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lm.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("OpenPadCore stopped")
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the status schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := system.OpenStore(cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema ready", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <pad_code>...",
		Short: "Re-provision pads once, without starting the servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			lm, err := newLifecycle(cfg, logger)
			if err != nil {
				return err
			}
			defer lm.Shutdown(context.Background())
			if err := lm.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			ctx := cmd.Context()
			for _, pad := range args {
				if err := lm.Orchestrator().Recover(ctx, pad, orchestrator.ReasonManual); err != nil {
					return fmt.Errorf("reset %s: %w", pad, err)
				}
				logger.Info("reset requested", zap.String("pad_code", pad))
			}
			return nil
		},
	}
}

func newLifecycle(cfg *config.Config, logger *zap.Logger) (*system.LifecycleManager, error) {
	store, err := system.OpenStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	api, err := cloud.NewClient(cfg.Cloud, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	lm, err := system.NewLifecycleManager(cfg, store, api, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return lm, nil
}
