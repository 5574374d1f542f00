package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SeedConfig holds configuration for the seed command.
type SeedConfig struct {
	In       string
	PGDSN    string
	LogLevel string
}

// LoadSeed merges config file, environment variables, and flags into SeedConfig.
func LoadSeed(cfgFile string, flags *pflag.FlagSet) (SeedConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return SeedConfig{}, err
	}

	cfg := SeedConfig{
		In:       v.GetString("in"),
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.In == "" {
		return SeedConfig{}, fmt.Errorf("in is required")
	}
	if cfg.PGDSN == "" {
		return SeedConfig{}, fmt.Errorf("pg-dsn is required")
	}
	return cfg, nil
}
