// Copyright (c) 2025 SciGo Volio Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package volio

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scigolib/volio/internal/config"
	"github.com/scigolib/volio/internal/metrics"
)

var log = logging.Logger("volio")

// Config is the I/O layer configuration. See LoadConfig.
type Config = config.Config

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config { return config.DefaultConfig() }

// LoadConfig reads a YAML configuration file. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) { return config.LoadConfig(path) }

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error { return config.SaveConfig(cfg, path) }

// ConfigFromEnv loads the file named by VOLIO_CONFIG, then applies
// VOLIO_SEQUENCE_START.
func ConfigFromEnv() (*Config, error) { return config.FromEnv() }

// Session carries the caller's context through reads and writes. The zero
// value is usable; a nil *Session is replaced by NewSession() on every call.
// A Session may be shared by sequential calls but is not safe for
// concurrent use while its fields are being changed.
type Session struct {
	// Logger overrides the package logger.
	Logger *zap.SugaredLogger

	// Config is consulted for compression, sequence numbering and
	// sanitation. Nil means DefaultConfig().
	Config *Config

	// Registerer receives the read/write counters. Nil disables metrics.
	Registerer prometheus.Registerer

	// DebugVoxel, when set, logs the value at (x, y, z) of frame 0 after
	// every read.
	DebugVoxel *[3]int

	// Subject is attached to log lines.
	Subject string

	// CommandLine is appended to the provenance of every written volume.
	CommandLine string

	once    sync.Once
	metrics *metrics.Metrics
}

// NewSession returns a session configured from the environment. An invalid
// environment is logged and the defaults are used.
func NewSession() *Session {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Warnw("ignoring invalid environment configuration", "error", err)
		cfg = config.DefaultConfig()
	}
	return &Session{Config: cfg}
}

func (s *Session) config() *Config {
	if s.Config == nil {
		return config.DefaultConfig()
	}
	return s.Config
}

func (s *Session) logger() *zap.SugaredLogger {
	l := s.Logger
	if l == nil {
		l = log.SugaredLogger.With()
	}
	if s.Subject != "" {
		l = l.With("subject", s.Subject)
	}
	return l
}

func (s *Session) counters() *metrics.Metrics {
	s.once.Do(func() {
		if s.Registerer != nil {
			s.metrics = metrics.New(s.Registerer)
		}
	})
	return s.metrics
}
