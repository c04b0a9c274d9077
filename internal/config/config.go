// Package config manages open-time configuration for a store, following
// the struct-tree-plus-yaml-tags pattern used across this codebase.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the open-time configuration for a store: location path,
// logical store name, initial map size, minimum reserved per-transaction
// space, growth increment, whether to create a lock file, and whether to
// use write-mapped I/O.
type Config struct {
	Path              string `yaml:"path"`
	StoreName         string `yaml:"store_name"`
	InitialMapSizeMB  int    `yaml:"initial_map_size_mb"`
	ReservedTxnKB     int    `yaml:"reserved_txn_kb"`
	GrowthIncrementKB int    `yaml:"growth_increment_kb"`
	CreateLockFile    bool   `yaml:"create_lock_file"`
	WriteMapped       bool   `yaml:"write_mapped"`
	// BestEffortSchema, when true, lets OpenSchema proceed even if a class's
	// compatibility verdict is "none" instead of aborting.
	BestEffortSchema bool `yaml:"best_effort_schema"`
	// DefaultChunkSize is the minimum size, in bytes, of a freshly started
	// collection chunk (default 2 KiB, tunable).
	DefaultChunkSize int `yaml:"default_chunk_size"`
}

const defaultChunkSize = 2 * 1024

// Default returns a Config with the store's sane defaults filled in.
func Default(path, storeName string) *Config {
	return &Config{
		Path:              path,
		StoreName:         storeName,
		InitialMapSizeMB:  64,
		ReservedTxnKB:     256,
		GrowthIncrementKB: 16 * 1024,
		CreateLockFile:    true,
		WriteMapped:       false,
		BestEffortSchema:  false,
		DefaultChunkSize:  defaultChunkSize,
	}
}

// Load reads a YAML configuration file and fills in any zero-valued field
// with Default's values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: path is required")
	}
	if c.InitialMapSizeMB <= 0 {
		return fmt.Errorf("config: initial_map_size_mb must be positive")
	}
	if c.GrowthIncrementKB <= 0 {
		return fmt.Errorf("config: growth_increment_kb must be positive")
	}
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = defaultChunkSize
	}
	return nil
}
