package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slpdexdb/internal/activation"
	"slpdexdb/internal/config"
	"slpdexdb/internal/storage/postgres"
)

func runSeed(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSeed(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.WithLogger(logger.Named("postgres")))
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := activation.Seed(ctx, store, in, logger.Named("seed"))
	if err != nil {
		return err
	}
	logger.Info("seed complete",
		zap.String("in", cfg.In),
		zap.Int("lines", stats.Lines),
		zap.Int("entities", stats.Entities),
		zap.Int("pending", stats.Pending),
		zap.Int("failed", stats.Failed),
	)
	return nil
}
