// Copyright (c) 2025 SciGo Volio Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Package config loads volio settings from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scigolib/volio/internal/pipe"
)

// Environment variables consulted by FromEnv.
const (
	EnvSequenceStart = "VOLIO_SEQUENCE_START"
	EnvConfigPath    = "VOLIO_CONFIG"
)

// Config holds every tunable of the I/O layer.
type Config struct {
	Compression struct {
		// Mode is "external" (spawn Program) or "builtin" (in process).
		Mode string `yaml:"mode"`

		// Program is the gzip-compatible filter used in external mode.
		Program string `yaml:"program"`

		// Level is the gzip compression level, 1..9.
		Level int `yaml:"level"`
	} `yaml:"compression"`

	Sequence struct {
		// Start is the first index of numbered frame sequences.
		Start int `yaml:"start"`
	} `yaml:"sequence"`

	Read struct {
		// Sanitize replaces non-finite float voxels with zero after reading.
		Sanitize bool `yaml:"sanitize"`
	} `yaml:"read"`

	Log struct {
		// Level is a go-log level name (debug, info, warn, error).
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Compression.Mode = pipe.External.String()
	cfg.Compression.Program = "gzip"
	cfg.Compression.Level = 6
	cfg.Sequence.Start = 1
	cfg.Read.Sanitize = true
	cfg.Log.Level = "warn"
	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	//nolint:gosec // G304: configuration path chosen by the user
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // G306: not secret
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// FromEnv loads the file named by VOLIO_CONFIG (defaults when unset) and
// applies VOLIO_SEQUENCE_START on top.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if p := os.Getenv(EnvConfigPath); p != "" {
		loaded, err := LoadConfig(p)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if s := strings.TrimSpace(os.Getenv(EnvSequenceStart)); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s=%q is not a non-negative integer", EnvSequenceStart, s)
		}
		cfg.Sequence.Start = n
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if _, err := pipe.ParseMode(c.Compression.Mode); err != nil {
		return err
	}
	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		return fmt.Errorf("compression level %d outside 1..9", c.Compression.Level)
	}
	if c.Sequence.Start < 0 {
		return fmt.Errorf("sequence start %d is negative", c.Sequence.Start)
	}
	return nil
}

// Pipe returns the compression settings as a pipe configuration.
func (c *Config) Pipe() pipe.Config {
	mode, _ := pipe.ParseMode(c.Compression.Mode)
	return pipe.Config{Mode: mode, Program: c.Compression.Program, Level: c.Compression.Level}
}
