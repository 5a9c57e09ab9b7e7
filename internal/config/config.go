// Package config loads service configuration from a YAML file with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "30s" style strings in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root service configuration.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	HTTP         HTTPConfig         `yaml:"http"`
	Storage      StorageConfig      `yaml:"storage"`
	Provider     ProviderConfig     `yaml:"provider"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Poller       PollerConfig       `yaml:"poller"`
	Workers      WorkersConfig      `yaml:"workers"`
	Symbols      []SymbolConfig     `yaml:"symbols"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // empty disables the archive
}

// ProviderConfig configures the market data provider.
type ProviderConfig struct {
	Name           string   `yaml:"name"`
	BaseURL        string   `yaml:"base_url"`
	StreamURL      string   `yaml:"stream_url"` // empty disables the live stream
	RatePerSecond  float64  `yaml:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst"`
	MaxWindow      Duration `yaml:"max_window"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// OrchestratorConfig bounds gap filling.
type OrchestratorConfig struct {
	HardCapBars int      `yaml:"hard_cap_bars"`
	GapTimeout  Duration `yaml:"gap_timeout"`
}

// PollerConfig configures the incremental poller.
type PollerConfig struct {
	Interval     string   `yaml:"interval"`
	Every        Duration `yaml:"every"`
	LookbackBars int      `yaml:"lookback_bars"`
}

// WorkersConfig configures background task lifecycle.
type WorkersConfig struct {
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// SymbolConfig declares one tracked instrument.
type SymbolConfig struct {
	ID     int64  `yaml:"id"`
	Ticker string `yaml:"ticker"`
	Name   string `yaml:"name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Provider: ProviderConfig{
			Name:           "rest",
			RatePerSecond:  5,
			RateBurst:      5,
			MaxWindow:      Duration(90 * 24 * time.Hour),
			RequestTimeout: Duration(30 * time.Second),
		},
		Orchestrator: OrchestratorConfig{
			HardCapBars: 500,
			GapTimeout:  Duration(30 * time.Second),
		},
		Poller: PollerConfig{
			Interval:     "1h",
			Every:        Duration(time.Minute),
			LookbackBars: 150,
		},
		Workers: WorkersConfig{
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Load reads configuration from path, falling back to defaults for missing
// fields, then applies environment overrides. An empty path loads defaults
// plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-sensitive values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CANDLEWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CANDLEWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CANDLEWATCH_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("CANDLEWATCH_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CANDLEWATCH_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("CANDLEWATCH_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("CANDLEWATCH_STREAM_URL"); v != "" {
		cfg.Provider.StreamURL = v
	}
}

// validate rejects configurations the service cannot start with.
func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage backend postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Orchestrator.HardCapBars < 1 {
		return fmt.Errorf("orchestrator hard_cap_bars must be positive")
	}
	if c.Poller.LookbackBars < 2 {
		return fmt.Errorf("poller lookback_bars must be at least 2")
	}
	return nil
}
