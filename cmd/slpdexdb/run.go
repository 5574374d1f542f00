package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slpdexdb/internal/activation"
	"slpdexdb/internal/chain"
	"slpdexdb/internal/config"
	"slpdexdb/internal/metrics"
	"slpdexdb/internal/model"
	"slpdexdb/internal/notify"
	"slpdexdb/internal/processor"
	"slpdexdb/internal/resync"
	"slpdexdb/internal/service"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
	"slpdexdb/internal/storage/postgres"
	"slpdexdb/internal/subscribers"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	subscribe, err := model.ParseAddresses(cfg.Subscribe)
	if err != nil {
		return err
	}

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
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	slpCfg := slp.Config{TokenTypes: cfg.TokenTypes, CacheSize: cfg.TokenCacheSize}
	classifier := slp.NewClassifier(slpCfg, logger)
	validator, err := slp.NewValidator(slpCfg, store, logger)
	if err != nil {
		return err
	}

	loop, err := resync.NewLoop(resync.Config{
		PageSize:     cfg.PageSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, client, store, classifier, logger.Named("resync"), resync.WithValidator(validator), resync.WithMetrics(m))
	if err != nil {
		return err
	}

	registry := subscribers.NewRegistry()
	broadcaster := notify.NewBroadcaster(cfg.ListenerTimeout, m, logger.Named("notify"))
	broadcaster.Register(notify.NewLogListener(logger.Named("notify")))
	if cfg.NotifyOut != "" {
		broadcaster.Register(notify.NewJSONLListener(storage.NewJsonlStorage(cfg.NotifyOut)))
	}

	proc, err := processor.New(processor.Config{
		Classifier: classifier,
		Validator:  validator,
		Store:      store,
		Registry:   registry,
		Notifier:   broadcaster,
		Metrics:    m,
		Logger:     logger.Named("processor"),
	})
	if err != nil {
		return err
	}

	act, err := activation.NewProcessor(store, nil, m, logger.Named("activation"))
	if err != nil {
		return err
	}

	svc, err := service.New(service.Config{
		MailboxSize:           cfg.MailboxSize,
		FeedBuffer:            cfg.FeedBuffer,
		BootstrapToken:        cfg.BootstrapToken,
		ResyncTokensOnStart:   cfg.ResyncTokensOnStart,
		ResyncExchangeOnStart: cfg.ResyncExchangeOnStart,
	}, service.Deps{
		Loop:        loop,
		Processor:   proc,
		Activation:  act,
		Headers:     store,
		Registry:    registry,
		Broadcaster: broadcaster,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("service start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Int("page_size", cfg.PageSize),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("mailbox_size", cfg.MailboxSize),
		zap.String("bootstrap_token", cfg.BootstrapToken),
		zap.Int("subscribe", len(subscribe)),
	)

	svc.Start(ctx)
	defer svc.Stop()

	for _, addr := range subscribe {
		if _, err := svc.Subscribe(ctx, addr); err != nil {
			return err
		}
	}

	server := metrics.NewServer(cfg.MetricsAddr, m, func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return err
		}
		return svc.Health(ctx)
	}, logger.Named("metrics"))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(server.Run)
	p.Go(func(ctx context.Context) error {
		return svc.RunFeeds(ctx, client)
	})
	return p.Wait()
}
