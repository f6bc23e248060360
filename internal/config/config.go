// Package config loads the pagequery CLI configuration from YAML with
// ${ENV} expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level CLI configuration.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Table   TableConfig   `yaml:"table"`
	Scroll  ScrollConfig  `yaml:"scroll"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
	Demo    DemoConfig    `yaml:"demo"`
}

// CacheConfig sizes the in-memory LRU and the optional spill tier.
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
	Codec    string        `yaml:"codec"` // json, cbor, msgpack, protobuf
	Spill    SpillConfig   `yaml:"spill"`
}

// SpillConfig selects the second tier for LRU-evicted pages.
type SpillConfig struct {
	Backend    string        `yaml:"backend"` // none, ristretto, bigcache
	TTL        time.Duration `yaml:"ttl"`
	MaxCost    int64         `yaml:"max_cost"`    // ristretto: byte budget
	LifeWindow time.Duration `yaml:"life_window"` // bigcache: entry lifetime
	MaxSizeMB  int           `yaml:"max_size_mb"` // bigcache: hard limit, 0 = unlimited
}

type TableConfig struct {
	Namespace   string        `yaml:"namespace"`
	PageSizes   []int         `yaml:"page_sizes"`
	SortBy      string        `yaml:"sort_by"`
	SortOrder   string        `yaml:"sort_order"`
	SearchDelay time.Duration `yaml:"search_delay"`
}

type ScrollConfig struct {
	Namespace   string        `yaml:"namespace"`
	PageSize    int           `yaml:"page_size"`
	SearchDelay time.Duration `yaml:"search_delay"`
}

type LogConfig struct {
	Backend string `yaml:"backend"` // zap, logrus, slog
	Level   string `yaml:"level"`   // debug, info, warn, error
	// Events logs cache hook events (fetches, evictions, self-heals) to
	// stderr through an async queue.
	Events bool `yaml:"events"`
}

// RedisConfig enables the cross-process invalidation bridge when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// MetricsConfig serves Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DemoConfig shapes the in-memory dataset the CLI queries.
type DemoConfig struct {
	Users   int           `yaml:"users"`
	Latency time.Duration `yaml:"latency"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity: 256,
			TTL:      5 * time.Minute,
			Codec:    "json",
			Spill: SpillConfig{
				Backend:    "none",
				TTL:        10 * time.Minute,
				MaxCost:    64 << 20,
				LifeWindow: 10 * time.Minute,
			},
		},
		Table: TableConfig{
			Namespace:   "users",
			PageSizes:   []int{10, 25, 50},
			SortBy:      "createdAt",
			SortOrder:   "desc",
			SearchDelay: 500 * time.Millisecond,
		},
		Scroll: ScrollConfig{
			Namespace:   "users",
			PageSize:    10,
			SearchDelay: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Backend: "slog",
			Level:   "info",
		},
		Redis: RedisConfig{
			Channel: "pagequery:invalidate",
		},
		Demo: DemoConfig{
			Users: 100,
		},
	}
}

// Load reads and parses a YAML config file over Default, expanding
// environment variables first. An empty path yields Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be >= 0, got %d", c.Cache.Capacity))
	}
	if !oneOf(c.Cache.Codec, "json", "cbor", "msgpack", "protobuf") {
		errs = append(errs, fmt.Errorf("cache.codec %q: want json, cbor, msgpack or protobuf", c.Cache.Codec))
	}
	switch c.Cache.Spill.Backend {
	case "", "none":
	case "ristretto":
		if c.Cache.Spill.MaxCost <= 0 {
			errs = append(errs, errors.New("cache.spill.max_cost must be > 0 for ristretto"))
		}
	case "bigcache":
		if c.Cache.Spill.LifeWindow <= 0 {
			errs = append(errs, errors.New("cache.spill.life_window must be > 0 for bigcache"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.spill.backend %q: want none, ristretto or bigcache", c.Cache.Spill.Backend))
	}
	for _, n := range c.Table.PageSizes {
		if n < 1 {
			errs = append(errs, fmt.Errorf("table.page_sizes: %d is not a valid page size", n))
		}
	}
	if !oneOf(strings.ToLower(c.Table.SortOrder), "", "asc", "desc") {
		errs = append(errs, fmt.Errorf("table.sort_order %q: want asc or desc", c.Table.SortOrder))
	}
	if c.Scroll.PageSize < 0 {
		errs = append(errs, fmt.Errorf("scroll.page_size must be >= 0, got %d", c.Scroll.PageSize))
	}
	if !oneOf(c.Log.Backend, "zap", "logrus", "slog") {
		errs = append(errs, fmt.Errorf("log.backend %q: want zap, logrus or slog", c.Log.Backend))
	}
	if !oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	if c.Demo.Users < 0 {
		errs = append(errs, fmt.Errorf("demo.users must be >= 0, got %d", c.Demo.Users))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
