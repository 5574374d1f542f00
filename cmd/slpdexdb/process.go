package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slpdexdb/internal/chain"
	"slpdexdb/internal/config"
	"slpdexdb/internal/model"
	"slpdexdb/internal/notify"
	"slpdexdb/internal/processor"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
	"slpdexdb/internal/storage/memory"
	"slpdexdb/internal/storage/postgres"
	"slpdexdb/internal/subscribers"
)

// rawTx is one input line: a serialized transaction with optional spent outputs.
type rawTx struct {
	Raw       hexutil.Bytes `json:"raw"`
	Height    int32         `json:"height"`
	Confirmed bool          `json:"confirmed"`
	PrevOuts  []rawPrevOut  `json:"prevOuts,omitempty"`
}

type rawPrevOut struct {
	Script hexutil.Bytes `json:"script"`
	Value  int64         `json:"value"`
}

type replayStats struct {
	Lines    int
	Failed   int
	Batches  int
	Outcomes map[processor.Outcome]int
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadProcess(cfgFile, cmd.Flags())
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

	var store storage.Storage
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.WithLogger(logger.Named("postgres")))
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		store = memory.NewStore()
	}

	registry := subscribers.NewRegistry()
	for _, addr := range subscribe {
		registry.Subscribe(addr)
	}

	broadcaster := notify.NewBroadcaster(0, nil, logger.Named("notify"))
	defer broadcaster.Close()
	broadcaster.Register(notify.NewJSONLListener(storage.NewJsonlStorage(cfg.Out)))

	validator, err := slp.NewValidator(slp.DefaultConfig(), store, logger)
	if err != nil {
		return err
	}
	proc, err := processor.New(processor.Config{
		Validator: validator,
		Store:     store,
		Registry:  registry,
		Notifier:  broadcaster,
		Logger:    logger.Named("processor"),
	})
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("process start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("subscribe", len(subscribe)),
	)

	stats, err := replay(ctx, inputFile, cfg.BatchSize, proc, logger)
	broadcaster.Wait()
	if err != nil {
		return err
	}

	logger.Info("process complete",
		zap.Int("lines", stats.Lines),
		zap.Int("failed", stats.Failed),
		zap.Int("batches", stats.Batches),
		zap.Int("skipped", stats.Outcomes[processor.Skipped]),
		zap.Int("skipped_after_validation", stats.Outcomes[processor.SkippedAfterValidation]),
		zap.Int("persisted", stats.Outcomes[processor.Persisted]),
	)
	return nil
}

// replay decodes raw transactions from in and feeds them to proc in batches of batchSize.
// Undecodable lines are logged and counted.
func replay(ctx context.Context, in io.Reader, batchSize int, proc *processor.Processor, logger *zap.Logger) (replayStats, error) {
	stats := replayStats{Outcomes: make(map[processor.Outcome]int)}

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.TxEntry, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		outcome, err := proc.Process(ctx, batch)
		if err != nil {
			return fmt.Errorf("process batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		stats.Outcomes[outcome]++
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		entry, err := decodeLine(line)
		if err != nil {
			stats.Failed++
			logger.Warn("skip undecodable line", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		batch = append(batch, entry)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, flush()
}

func decodeLine(line []byte) (model.TxEntry, error) {
	var record rawTx
	if err := json.Unmarshal(line, &record); err != nil {
		return model.TxEntry{}, err
	}
	var prevOuts []chain.PrevOut
	if record.PrevOuts != nil {
		prevOuts = make([]chain.PrevOut, 0, len(record.PrevOuts))
		for _, p := range record.PrevOuts {
			prevOuts = append(prevOuts, chain.PrevOut{Script: p.Script, Value: p.Value})
		}
	}
	return chain.DecodeTx(record.Raw, record.Height, record.Confirmed, prevOuts)
}
