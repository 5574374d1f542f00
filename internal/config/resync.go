package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ResyncConfig holds configuration for the one-shot resync command.
type ResyncConfig struct {
	RPCURL       string
	PGDSN        string
	Subject      string
	Address      string
	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadResync merges config file, environment variables, and flags into ResyncConfig.
func LoadResync(cfgFile string, flags *pflag.FlagSet) (ResyncConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		setSyncDefaults(v)
		v.SetDefault("subject", "token")
	})
	if err != nil {
		return ResyncConfig{}, err
	}

	cfg := ResyncConfig{
		RPCURL:       v.GetString("rpc"),
		PGDSN:        v.GetString("pg-dsn"),
		Subject:      v.GetString("subject"),
		Address:      v.GetString("address"),
		PageSize:     v.GetInt("page-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return ResyncConfig{}, fmt.Errorf("rpc is required")
	}
	if cfg.PGDSN == "" {
		return ResyncConfig{}, fmt.Errorf("pg-dsn is required")
	}
	if cfg.Subject == "address" && cfg.Address == "" {
		return ResyncConfig{}, fmt.Errorf("address is required for the address subject")
	}
	return cfg, nil
}
