// Package config loads engine configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration document.
type Config struct {
	Engine EngineConfig `toml:"engine"`
	Cache  CacheConfig  `toml:"cache"`
	Trace  TraceConfig  `toml:"trace"`
}

// EngineConfig bounds evaluation.
type EngineConfig struct {
	// MaxCallDepth caps nested block invocations; 0 means the default.
	MaxCallDepth int `toml:"max_call_depth"`
	// MaxInstructions aborts a block after this many executed instructions;
	// 0 disables the limit.
	MaxInstructions int `toml:"max_instructions"`
}

// CacheConfig controls the persistent compiled-block cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TraceConfig controls instruction tracing.
type TraceConfig struct {
	// Instructions logs each executed instruction in disassembly form.
	Instructions bool `toml:"instructions"`
}

// DefaultMaxCallDepth is used when the configured depth is zero.
const DefaultMaxCallDepth = 500

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{MaxCallDepth: DefaultMaxCallDepth},
	}
}

// Load reads a TOML config file. A missing file yields the defaults; a
// malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if cfg.Engine.MaxCallDepth <= 0 {
		cfg.Engine.MaxCallDepth = DefaultMaxCallDepth
	}
	return cfg, nil
}

// DefaultPath returns the conventional config location under the user's
// home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".nuir", "config.toml"), nil
}
