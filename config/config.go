package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// GatewayConfig selects and configures the transport to the gateway bridge.
type GatewayConfig struct {
	Transport string        `mapstructure:"transport"` // "ws" or "rest"
	WSURL     string        `mapstructure:"ws_url"`
	RESTURL   string        `mapstructure:"rest_url"`
	ClientID  int           `mapstructure:"client_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	DataDir           string `mapstructure:"data_dir"`      // Day Log directory
	BarSize           string `mapstructure:"bar_size"`      // e.g., "1 min"
	WindowMonths      int    `mapstructure:"window_months"` // months per request
	Floor             string `mapstructure:"floor"`         // earliest cursor honored, "YYYYMMDD HH:MM:SS"
	StartFromEarliest bool   `mapstructure:"start_from_earliest"`
	SymbolsFile       string `mapstructure:"symbols_file"`
	SymbolColumn      int    `mapstructure:"symbol_column"`
	SymbolPrefixLen   int    `mapstructure:"symbol_prefix_len"`
	Exchange          string `mapstructure:"exchange"` // default routing exchange
	ContinueOnError   bool   `mapstructure:"continue_on_error"`
	Schedule          string `mapstructure:"schedule"` // cron spec, empty runs once
}

type LogConfig struct {
	Level       string `mapstructure:"level"`       // "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // optional, rotated
	Environment string `mapstructure:"environment"` // "dev" or "prod"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.transport", "ws")
	v.SetDefault("gateway.ws_url", "ws://localhost:4002/ws")
	v.SetDefault("gateway.rest_url", "http://localhost:4002")
	v.SetDefault("gateway.client_id", 500)
	v.SetDefault("gateway.timeout", 2*time.Minute)

	v.SetDefault("sync.data_dir", "ib_data")
	v.SetDefault("sync.bar_size", "1 min")
	v.SetDefault("sync.window_months", 2)
	v.SetDefault("sync.floor", "20120201 00:00:00")
	v.SetDefault("sync.symbols_file", "stock_code.csv")
	v.SetDefault("sync.symbol_column", 1)
	v.SetDefault("sync.symbol_prefix_len", 3)
	v.SetDefault("sync.exchange", "SMART")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "barsync")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.ssm_prefix", "/barsync/db")
}

// Load reads configuration with Viper. An explicit path wins; otherwise
// config.yaml is searched next to the binary and in ./config. A missing
// file is not an error: defaults and BARSYNC_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if ex, err := os.Executable(); err == nil && !strings.Contains(ex, "go-build") {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	// e.g., BARSYNC_GATEWAY_CLIENT_ID
	v.SetEnvPrefix("barsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the sync engine cannot run without.
func (c *Config) Validate() error {
	switch c.Gateway.Transport {
	case "ws", "rest":
	default:
		return fmt.Errorf("invalid gateway.transport: %q", c.Gateway.Transport)
	}
	if c.Sync.WindowMonths <= 0 {
		return fmt.Errorf("sync.window_months must be positive, got %d", c.Sync.WindowMonths)
	}
	if c.Sync.DataDir == "" {
		return fmt.Errorf("sync.data_dir is required")
	}
	if c.Sync.SymbolColumn < 0 || c.Sync.SymbolPrefixLen < 0 {
		return fmt.Errorf("sync.symbol_column and sync.symbol_prefix_len must not be negative")
	}
	return nil
}
