package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hearth/pkg/logging"
	"hearth/pkg/memory"
	"hearth/pkg/telemetry"
)

// Config is the CLI's YAML configuration. Every field has a usable
// default, so a missing config file is not an error; flags override
// whatever the file says.
type Config struct {
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Store     StoreConfig      `yaml:"store"`
}

// StoreConfig shapes the page store and its backing provider. The kernel
// itself takes functional options; this struct is only the edge where
// YAML meets them.
type StoreConfig struct {
	// Capacity bounds the page cache, in pages.
	Capacity int `yaml:"capacity"`
	// LockTimeout is a Go duration string, e.g. "2s" or "500ms".
	LockTimeout string `yaml:"lock_timeout"`
	// EvictionPolicy is one of "lru", "clock", "lfu".
	EvictionPolicy string `yaml:"eviction_policy"`
	// Backend is "heap" (file per table under DataDir) or "sqlite".
	Backend string `yaml:"backend"`
	// DataDir holds the heap backend's table files.
	DataDir string `yaml:"data_dir"`
	// SQLiteDSN is the sqlite backend's data source name.
	SQLiteDSN string `yaml:"sqlite_dsn"`
}

func defaultConfig() Config {
	return Config{
		Logging: logging.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "hearth",
			PrometheusPort: 9464,
		},
		Store: StoreConfig{
			Capacity:       memory.DefaultCapacity,
			LockTimeout:    memory.DefaultLockTimeout.String(),
			EvictionPolicy: "lru",
			Backend:        "heap",
			DataDir:        "data",
			SQLiteDSN:      "hearth.db",
		},
	}
}

// loadConfig reads path over the defaults. An empty path means
// defaults only.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// storeOptions translates the store section into page store options.
func (c StoreConfig) storeOptions() ([]memory.Option, error) {
	opts := []memory.Option{memory.WithCapacity(c.Capacity)}

	if c.LockTimeout != "" {
		d, err := time.ParseDuration(c.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid lock_timeout %q: %w", c.LockTimeout, err)
		}
		opts = append(opts, memory.WithLockTimeout(d))
	}

	switch c.EvictionPolicy {
	case "", "lru":
		opts = append(opts, memory.WithEvictionPolicy(memory.NewLRUPolicy()))
	case "clock":
		opts = append(opts, memory.WithEvictionPolicy(memory.NewClockPolicy()))
	case "lfu":
		opts = append(opts, memory.WithEvictionPolicy(memory.NewLFUPolicy()))
	default:
		return nil, fmt.Errorf("unknown eviction_policy %q (want lru, clock, or lfu)", c.EvictionPolicy)
	}

	return opts, nil
}
