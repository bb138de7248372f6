// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/pixie16-daq/config.yaml"

// Config represents the complete crate-controller configuration.
type Config struct {
	// Modules is the number of Pixie-16 modules installed in the crate.
	Modules int `yaml:"modules" koanf:"modules"`
	// Channels is the number of channels per module.
	Channels int `yaml:"channels" koanf:"channels"`
	// FIFOMax is the per-module FIFO capacity in 32-bit words.
	FIFOMax int `yaml:"fifo_max" koanf:"fifo_max"`
	// FIFOMin is the minimum word count worth draining from a module.
	FIFOMin int `yaml:"fifo_min" koanf:"fifo_min"`
	// PollTries bounds how many times RunLoop polls FIFO word counts
	// before deciding a spill isn't worth draining yet.
	PollTries int `yaml:"poll_tries" koanf:"poll_tries"`

	// Slots maps module index to expected backplane slot number.
	Slots map[int]int `yaml:"slots" koanf:"slots"`

	Output    OutputConfig    `yaml:"output" koanf:"output"`
	Broadcast BroadcastConfig `yaml:"broadcast" koanf:"broadcast"`
	Stats     StatsConfig     `yaml:"stats" koanf:"stats"`
	Health    HealthConfig    `yaml:"health" koanf:"health"`
	Updater   UpdaterConfig   `yaml:"updater" koanf:"updater"`
}

// OutputConfig contains run-file output settings.
type OutputConfig struct {
	Dir       string `yaml:"dir" koanf:"dir"`
	Prefix    string `yaml:"prefix" koanf:"prefix"`
	Title     string `yaml:"title" koanf:"title"`
	RunNumber int    `yaml:"run_number" koanf:"run_number"`
}

// BroadcastConfig contains the UDP event-broadcast settings.
type BroadcastConfig struct {
	Host string `yaml:"host" koanf:"host"`
	Port int    `yaml:"port" koanf:"port"`
	Shm  bool   `yaml:"shm" koanf:"shm"`
}

// StatsConfig contains statistics-dump settings.
type StatsConfig struct {
	DumpIntervalSeconds float64 `yaml:"dump_interval_seconds" koanf:"dump_interval_seconds"`
}

// HealthConfig contains health-endpoint settings.
type HealthConfig struct {
	Enabled    bool   `yaml:"enabled" koanf:"enabled"`
	ListenAddr string `yaml:"listen_addr" koanf:"listen_addr"`
}

// UpdaterConfig contains self-update settings.
type UpdaterConfig struct {
	Enabled  bool          `yaml:"enabled" koanf:"enabled"`
	Repo     string        `yaml:"repo" koanf:"repo"`
	Interval time.Duration `yaml:"interval" koanf:"interval"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Modules <= 0 {
		return fmt.Errorf("modules must be positive")
	}
	if c.Channels <= 0 || c.Channels > 16 {
		return fmt.Errorf("channels must be between 1 and 16")
	}
	if c.FIFOMax <= 0 {
		return fmt.Errorf("fifo_max must be positive")
	}
	if c.FIFOMin < 0 || c.FIFOMin >= c.FIFOMax {
		return fmt.Errorf("fifo_min must be non-negative and less than fifo_max")
	}
	if c.PollTries <= 0 {
		return fmt.Errorf("poll_tries must be positive")
	}
	for mod, slot := range c.Slots {
		if mod < 0 || mod >= c.Modules {
			return fmt.Errorf("slot map references out-of-range module %d", mod)
		}
		if slot < 0 {
			return fmt.Errorf("slot map module %d has negative slot %d", mod, slot)
		}
	}
	if c.Output.Prefix == "" {
		return fmt.Errorf("output.prefix cannot be empty")
	}
	if c.Output.RunNumber < 0 {
		return fmt.Errorf("output.run_number must not be negative")
	}
	if c.Broadcast.Port < 0 || c.Broadcast.Port > 65535 {
		return fmt.Errorf("broadcast.port out of range")
	}
	if c.Stats.DumpIntervalSeconds < 0 {
		return fmt.Errorf("stats.dump_interval_seconds must not be negative")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults, suitable
// for the simulated crate.
func DefaultConfig() *Config {
	return &Config{
		Modules:   1,
		Channels:  16,
		FIFOMax:   131072,
		FIFOMin:   2,
		PollTries: 10,
		Slots:     map[int]int{0: 2},
		Output: OutputConfig{
			Dir:       "/var/lib/pixie16-daq/data",
			Prefix:    "run",
			RunNumber: 1,
		},
		Broadcast: BroadcastConfig{
			Host: "127.0.0.1",
			Port: 5555,
			Shm:  false,
		},
		Stats: StatsConfig{
			DumpIntervalSeconds: 60,
		},
		Health: HealthConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9998",
		},
		Updater: UpdaterConfig{
			Enabled:  false,
			Interval: 24 * time.Hour,
		},
	}
}
