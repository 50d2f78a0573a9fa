// Package config provides YAML configuration for the FieldSync daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Storage   StorageConfig   `yaml:"storage"`
	Remote    RemoteConfig    `yaml:"remote"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DaemonConfig configures the local control API.
type DaemonConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig configures the local durable store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RemoteConfig configures the remote mutation API.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	AuthURL        string `yaml:"auth_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the remote call timeout as a duration.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// QueueConfig configures the per-partition queue limits.
type QueueConfig struct {
	MaxItems           int `yaml:"max_items"`
	MaxQueueBytes      int `yaml:"max_queue_bytes"`
	MaxItemBytes       int `yaml:"max_item_bytes"`
	MaxRetries         int `yaml:"max_retries"`
	BinaryRunThreshold int `yaml:"binary_run_threshold"`
}

// SchedulerConfig configures the background replay scheduler.
type SchedulerConfig struct {
	ReplayIntervalSeconds int `yaml:"replay_interval_seconds"`
	ProbeIntervalSeconds  int `yaml:"probe_interval_seconds"`
}

// ReplayInterval returns the replay interval as a duration.
func (s SchedulerConfig) ReplayInterval() time.Duration {
	return time.Duration(s.ReplayIntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (s SchedulerConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalSeconds) * time.Second
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ListenAddr: "localhost:8790",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8080/api/v1",
			AuthURL:        "http://localhost:8080/api/v1/auth",
			TimeoutSeconds: 30,
		},
		Queue: QueueConfig{
			MaxItems:           100,
			MaxQueueBytes:      512 * 1024,
			MaxItemBytes:       64 * 1024,
			MaxRetries:         5,
			BinaryRunThreshold: 10000,
		},
		Scheduler: SchedulerConfig{
			ReplayIntervalSeconds: 60,
			ProbeIntervalSeconds:  15,
		},
	}
}

// Load reads a YAML configuration file, applying defaults for any field the
// file omits.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Queue.MaxItems <= 0 {
		return fmt.Errorf("queue.max_items must be positive, got %d", c.Queue.MaxItems)
	}
	if c.Queue.MaxItemBytes <= 0 {
		return fmt.Errorf("queue.max_item_bytes must be positive, got %d", c.Queue.MaxItemBytes)
	}
	if c.Queue.MaxQueueBytes < c.Queue.MaxItemBytes {
		return fmt.Errorf("queue.max_queue_bytes (%d) must be at least queue.max_item_bytes (%d)",
			c.Queue.MaxQueueBytes, c.Queue.MaxItemBytes)
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.BinaryRunThreshold <= 0 {
		return fmt.Errorf("queue.binary_run_threshold must be positive, got %d", c.Queue.BinaryRunThreshold)
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}
