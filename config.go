package forkjoin

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine-wide configuration.
type Config struct {
	// LookaheadDepth bounds the DFS used to discover a fork's join node.
	LookaheadDepth int `yaml:"lookahead_depth"`

	// CounterTTL bounds how long a distributed join counter survives.
	// Branches lost to crashes leak at most one key for this long.
	CounterTTL time.Duration `yaml:"counter_ttl"`

	// KeyPrefix namespaces counter keys in the shared store.
	KeyPrefix string `yaml:"key_prefix"`

	// DefaultConcurrency is the size of the shared default worker pool.
	DefaultConcurrency int `yaml:"default_concurrency"`

	// ShutdownTimeout is the maximum time to wait for pools to drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Pools declares named worker pools in addition to the default pool.
	Pools []PoolConfig `yaml:"pools"`

	// RedisAddr, when set, selects the Redis join counter.
	RedisAddr string `yaml:"redis_addr"`
}

// PoolConfig declares a named worker pool.
type PoolConfig struct {
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`

	// RateLimit is the sustained branch starts per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LookaheadDepth:     20,
		CounterTTL:         time.Hour,
		KeyPrefix:          "forkjoin:",
		DefaultConcurrency: 16,
		ShutdownTimeout:    30 * time.Second,
	}
}

// LoadConfig reads a YAML config file. Fields absent from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("forkjoin: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("forkjoin: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot honour.
func (c Config) Validate() error {
	if c.LookaheadDepth <= 0 {
		return fmt.Errorf("%w: lookahead_depth must be positive", ErrInvalidConfig)
	}
	if c.CounterTTL <= 0 {
		return fmt.Errorf("%w: counter_ttl must be positive", ErrInvalidConfig)
	}
	if c.DefaultConcurrency <= 0 {
		return fmt.Errorf("%w: default_concurrency must be positive", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("%w: pool name is required", ErrInvalidConfig)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate pool %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Concurrency <= 0 {
			return fmt.Errorf("%w: pool %q concurrency must be positive", ErrInvalidConfig, p.Name)
		}
	}
	return nil
}
