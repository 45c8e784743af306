// Package config loads the optional YAML defaults file. The CLI flags
// in cmd/ipfixd remain the primary configuration surface; this file
// only supplies values a flag wasn't given for.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds defaults loaded from --config. Every field is optional;
// a zero value means "use the CLI/built-in default."
type Config struct {
	Defaults DefaultsConfig `yaml:"defaults"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alert    AlertConfig    `yaml:"alert"`
}

// DefaultsConfig holds per-port defaults. cmd/ipfixd applies
// BufferPoolSize when --queue-size is not given; RotateSeconds is
// parsed but not applied by cmd/ipfixd.
type DefaultsConfig struct {
	BufferPoolSize int `yaml:"buffer_pool_size"`
	RotateSeconds  int `yaml:"rotate_seconds"`
}

// LoggingConfig mirrors logger.Config in YAML-tagged form. It is parsed
// but not applied by cmd/ipfixd, whose logger is configured from the
// --log, --log-level and --log-format flags only.
type LoggingConfig struct {
	Console struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
	} `yaml:"console"`
	File struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
		Path    string `yaml:"path"`
	} `yaml:"file"`
}

// MetricsConfig configures the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// AlertConfig configures the optional anomaly webhook.
type AlertConfig struct {
	Enabled            bool   `yaml:"enabled"`
	UpstreamURL        string `yaml:"upstream_url"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Load reads and parses path. A missing file is not an error — the
// daemon runs fine on CLI flags and built-in defaults alone — but a
// present, malformed file is.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Defaults.BufferPoolSize == 0 {
		cfg.Defaults.BufferPoolSize = 50000
	}
	if cfg.Defaults.RotateSeconds == 0 {
		cfg.Defaults.RotateSeconds = 300
	}

	return &cfg, nil
}
