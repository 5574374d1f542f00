package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"slpdexdb/internal/resync"
)

func main() {
	root := &cobra.Command{
		Use:          "slpdexdb",
		Short:        "SLP exchange ledger sync",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync service against live feeds",
		RunE:  runService,
	}

	runCmd.Flags().String("rpc", "", "ledger source websocket URL")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("metrics-addr", ":9090", "metrics and health listen address")
	runCmd.Flags().Int("page-size", 1000, "items per resync page")
	runCmd.Flags().Int("max-retries", 0, "automatic retries per failed source call")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Int("mailbox-size", 64, "actor mailbox capacity")
	runCmd.Flags().Int("feed-buffer", 16, "live feed channel capacity")
	runCmd.Flags().Duration("listener-timeout", 30*time.Second, "per listener delivery timeout")
	runCmd.Flags().String("notify-out", "", "optional JSONL path for notified transactions")
	runCmd.Flags().Int("token-cache-size", 50000, "validator token output cache size")
	runCmd.Flags().StringSlice("token-types", []string{"1"}, "accepted SLP token types")
	runCmd.Flags().String("bootstrap-token", resync.DefaultBootstrapToken, "token seeded on startup; an explicit empty value disables bootstrap")
	runCmd.Flags().Bool("resync-tokens", false, "resync the token list on startup")
	runCmd.Flags().Bool("resync-exchange", false, "resync exchange offers on startup")
	runCmd.Flags().StringSlice("subscribe", nil, "addresses to subscribe on startup (hex, comma-separated)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	resyncCmd := &cobra.Command{
		Use:   "resync",
		Short: "Resync one subject to completion and exit",
		RunE:  runResync,
	}

	resyncCmd.Flags().String("rpc", "", "ledger source websocket URL")
	resyncCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	resyncCmd.Flags().String("subject", "token", "subject to resync (token, exchange, address, bootstrap)")
	resyncCmd.Flags().String("address", "", "address for the address subject (hex)")
	resyncCmd.Flags().Int("page-size", 1000, "items per resync page")
	resyncCmd.Flags().Int("max-retries", 0, "automatic retries per failed source call")
	resyncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	resyncCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(resyncCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Replay raw transactions through the processor",
		RunE:  runProcess,
	}

	processCmd.Flags().String("in", "", "input JSONL of raw transactions")
	processCmd.Flags().String("out", "./data/notifications.jsonl", "output JSONL of notified transactions")
	processCmd.Flags().String("pg-dsn", "", "Postgres DSN (empty uses an in-memory store)")
	processCmd.Flags().Int("batch-size", 100, "transactions per processed batch")
	processCmd.Flags().StringSlice("subscribe", nil, "subscribed addresses (hex, comma-separated)")
	processCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(processCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load entities and pending activations from JSONL",
		RunE:  runSeed,
	}

	seedCmd.Flags().String("in", "", "input JSONL of entity and pending activation records")
	seedCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	seedCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(seedCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
