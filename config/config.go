// Package config loads taskledger configuration from TOML.
//
// Configuration is searched for at ledger.toml in the working
// directory, then ~/.config/taskledger/ledger.toml. Every field has a
// default; a missing file yields a fully usable in-memory setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names accepted in [store] and [queue].
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

// Duration wraps time.Duration for TOML decoding from strings like
// "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Queue   QueueConfig   `toml:"queue"`
	NATS    NATSConfig    `toml:"nats"`
	Retry   RetryConfig   `toml:"retry"`
	Workers WorkersConfig `toml:"workers"`
	Log     LogConfig     `toml:"log"`
}

// StoreConfig selects and tunes the ledger store.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`

	// DSN is the PostgreSQL connection string.
	DSN string `toml:"dsn"`

	// MaxConns caps the connection pool.
	MaxConns int32 `toml:"max_conns"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	// Backend is "memory" or "nats".
	Backend string `toml:"backend"`

	// Bucket is the JetStream KV bucket for the NATS backend.
	Bucket string `toml:"bucket"`

	// PollInterval is the due-check granularity.
	PollInterval Duration `toml:"poll_interval"`
}

// NATSConfig holds connection settings shared by the NATS queue and the
// NATS event bus.
type NATSConfig struct {
	URL      string `toml:"url"`
	Name     string `toml:"name"`
	Token    string `toml:"token"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// RetryConfig tunes execution backoff.
type RetryConfig struct {
	BaseDelay Duration `toml:"base_delay"`
	CapDelay  Duration `toml:"cap_delay"`
}

// WorkersConfig tunes the execution worker pool.
type WorkersConfig struct {
	Concurrency int `toml:"concurrency"`
}

// LogConfig tunes console output.
type LogConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present:
// in-memory store and queue, 4 workers, INFO logging.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:  BackendMemory,
			MaxConns: 8,
		},
		Queue: QueueConfig{
			Backend:      BackendMemory,
			Bucket:       "ledger-jobs",
			PollInterval: Duration{250 * time.Millisecond},
		},
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "taskledger",
		},
		Retry: RetryConfig{
			BaseDelay: Duration{30 * time.Second},
			CapDelay:  Duration{5 * time.Minute},
		},
		Workers: WorkersConfig{
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// SearchPaths returns candidate config locations in priority order.
func SearchPaths() []string {
	paths := []string{"ledger.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskledger", "ledger.toml"))
	}
	return paths
}

// Load reads configuration from the first file found on the search
// path. A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return Default(), nil
}

// LoadFile reads configuration from a specific file, filling unset
// fields from defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store backend %q requires dsn", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("queue backend %q requires nats url", c.Queue.Backend)
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}

	if c.Retry.BaseDelay.Duration <= 0 || c.Retry.CapDelay.Duration <= 0 {
		return fmt.Errorf("retry delays must be positive")
	}
	if c.Retry.CapDelay.Duration < c.Retry.BaseDelay.Duration {
		return fmt.Errorf("retry cap_delay must not be below base_delay")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers concurrency must be positive")
	}

	switch c.Log.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
