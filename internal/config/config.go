package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"slpdexdb/internal/resync"
)

// Config holds configuration for the run command.
type Config struct {
	RPCURL      string
	PGDSN       string
	MetricsAddr string
	LogLevel    string

	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration

	MailboxSize     int
	FeedBuffer      int
	ListenerTimeout time.Duration
	NotifyOut       string
	TokenCacheSize  int
	TokenTypes      []uint8

	BootstrapToken        string
	ResyncTokensOnStart   bool
	ResyncExchangeOnStart bool
	Subscribe             []string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		setSyncDefaults(v)
		v.SetDefault("metrics-addr", ":9090")
		v.SetDefault("mailbox-size", 64)
		v.SetDefault("feed-buffer", 16)
		v.SetDefault("listener-timeout", 30*time.Second)
		v.SetDefault("token-cache-size", 50000)
		v.SetDefault("token-types", []string{"1"})
		v.SetDefault("bootstrap-token", resync.DefaultBootstrapToken)
		v.SetDefault("resync-tokens", false)
		v.SetDefault("resync-exchange", false)
	})
	if err != nil {
		return Config{}, err
	}

	tokenTypes, err := getUint8Slice(v, "token-types")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:                v.GetString("rpc"),
		PGDSN:                 v.GetString("pg-dsn"),
		MetricsAddr:           v.GetString("metrics-addr"),
		LogLevel:              v.GetString("log-level"),
		PageSize:              v.GetInt("page-size"),
		MaxRetries:            v.GetInt("max-retries"),
		RetryBackoff:          v.GetDuration("retry-backoff"),
		MailboxSize:           v.GetInt("mailbox-size"),
		FeedBuffer:            v.GetInt("feed-buffer"),
		ListenerTimeout:       v.GetDuration("listener-timeout"),
		NotifyOut:             v.GetString("notify-out"),
		TokenCacheSize:        v.GetInt("token-cache-size"),
		TokenTypes:            tokenTypes,
		BootstrapToken:        v.GetString("bootstrap-token"),
		ResyncTokensOnStart:   v.GetBool("resync-tokens"),
		ResyncExchangeOnStart: v.GetBool("resync-exchange"),
		Subscribe:             getStringSlice(v, "subscribe"),
	}
	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc is required")
	}
	if cfg.PGDSN == "" {
		return Config{}, fmt.Errorf("pg-dsn is required")
	}
	return cfg, nil
}

// MigrateConfig holds configuration for the migrate command.
type MigrateConfig struct {
	PGDSN    string
	LogLevel string
}

// LoadMigrate merges config file, environment variables, and flags into MigrateConfig.
func LoadMigrate(cfgFile string, flags *pflag.FlagSet) (MigrateConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return MigrateConfig{}, err
	}
	cfg := MigrateConfig{
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.PGDSN == "" {
		return MigrateConfig{}, fmt.Errorf("pg-dsn is required")
	}
	return cfg, nil
}

// Retries are manual by default: a failed iteration surfaces to the caller, which re-runs it.
func setSyncDefaults(v *viper.Viper) {
	v.SetDefault("page-size", 1000)
	v.SetDefault("max-retries", 0)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
}

func load(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SLPDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getUint8Slice(v *viper.Viper, key string) ([]uint8, error) {
	items := getStringSlice(v, key)
	out := make([]uint8, 0, len(items))
	for _, item := range items {
		n, err := strconv.ParseUint(item, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid value %q: %w", key, item, err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
