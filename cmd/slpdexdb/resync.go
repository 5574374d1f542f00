package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slpdexdb/internal/chain"
	"slpdexdb/internal/config"
	"slpdexdb/internal/model"
	"slpdexdb/internal/resync"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage/postgres"
)

func runResync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadResync(cfgFile, cmd.Flags())
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

	client, err := chain.NewClient(ctx, cfg.RPCURL, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.WithLogger(logger.Named("postgres")))
	if err != nil {
		return err
	}
	defer store.Close()

	validator, err := slp.NewValidator(slp.DefaultConfig(), store, logger)
	if err != nil {
		return err
	}
	loop, err := resync.NewLoop(resync.Config{
		PageSize:     cfg.PageSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, client, store, nil, logger, resync.WithValidator(validator))
	if err != nil {
		return err
	}

	logger.Info("resync start", zap.String("subject", cfg.Subject), zap.String("address", cfg.Address))

	var n int
	switch cfg.Subject {
	case "bootstrap":
		id, err := chainhash.NewHashFromStr(resync.DefaultBootstrapToken)
		if err != nil {
			return err
		}
		return loop.Bootstrap(ctx, *id)
	case "token":
		n, err = loop.ResyncTokens(ctx)
	case "exchange":
		n, err = loop.ResyncExchange(ctx)
	case "address":
		addr, perr := model.ParseAddress(cfg.Address)
		if perr != nil {
			return perr
		}
		n, err = loop.ResyncAddress(ctx, addr)
	default:
		return fmt.Errorf("unknown subject: %s", cfg.Subject)
	}
	if err != nil {
		return err
	}

	logger.Info("resync complete", zap.String("subject", cfg.Subject), zap.Int("items", n))
	return nil
}
