package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProcessConfig holds configuration for the process command.
type ProcessConfig struct {
	In        string
	Out       string
	PGDSN     string
	BatchSize int
	Subscribe []string
	LogLevel  string
}

// LoadProcess merges config file, environment variables, and flags into ProcessConfig.
// Without pg-dsn the batch is processed against an in-memory store.
func LoadProcess(cfgFile string, flags *pflag.FlagSet) (ProcessConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("out", "./data/notifications.jsonl")
		v.SetDefault("batch-size", 100)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return ProcessConfig{}, err
	}

	cfg := ProcessConfig{
		In:        v.GetString("in"),
		Out:       v.GetString("out"),
		PGDSN:     v.GetString("pg-dsn"),
		BatchSize: v.GetInt("batch-size"),
		Subscribe: getStringSlice(v, "subscribe"),
		LogLevel:  v.GetString("log-level"),
	}
	if cfg.In == "" {
		return ProcessConfig{}, fmt.Errorf("in is required")
	}
	if cfg.BatchSize <= 0 {
		return ProcessConfig{}, fmt.Errorf("batch-size must be greater than zero")
	}
	return cfg, nil
}
