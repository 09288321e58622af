// Copyright (c) 2025 SciGo Volio Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Package metrics counts volume I/O on a caller-supplied prometheus registry.
//
// volio_reads_total{format,result}
//   - every Read/ReadHeader call, result "ok" or the failing stage
//
// volio_writes_total{format,result}
//   - every Write call
//
// volio_payload_bytes_total{format,direction}
//   - decoded or encoded voxel bytes, direction "read" or "write"
//
// volio_nonfinite_voxels_total{format}
//   - NaN/Inf voxels replaced with zero during sanitation
//
// volio_geometry_fallbacks_total{format}
//   - reads that used the default orientation
package metrics

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var log = logging.Logger("volio/metrics")

const namespace = "volio"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	reads     *prometheus.CounterVec
	writes    *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	nonFinite *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

// New registers the collectors on reg. Collectors already registered by an
// earlier call are reused, so several sessions may share one registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	return &Metrics{
		reads: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Volume read calls by format and result.",
		}, []string{"format", "result"})),
		writes: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Volume write calls by format and result.",
		}, []string{"format", "result"})),
		bytes: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Voxel payload bytes decoded or encoded.",
		}, []string{"format", "direction"})),
		nonFinite: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonfinite_voxels_total",
			Help:      "Non-finite voxels replaced with zero after reading.",
		}, []string{"format"})),
		fallbacks: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geometry_fallbacks_total",
			Help:      "Reads whose orientation fell back to the default.",
		}, []string{"format"})),
	}
}

// Read records a read call. result is "ok" or a failure stage.
func (m *Metrics) Read(format, result string, payloadBytes int) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(format, result).Inc()
	if payloadBytes > 0 {
		m.bytes.WithLabelValues(format, "read").Add(float64(payloadBytes))
	}
}

// Write records a write call.
func (m *Metrics) Write(format, result string, payloadBytes int) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(format, result).Inc()
	if payloadBytes > 0 {
		m.bytes.WithLabelValues(format, "write").Add(float64(payloadBytes))
	}
}

// NonFinite records sanitized voxels.
func (m *Metrics) NonFinite(format string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.nonFinite.WithLabelValues(format).Add(float64(n))
}

// GeometryFallback records a read that used the default orientation.
func (m *Metrics) GeometryFallback(format string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(format).Inc()
}

func registerOrGet(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		log.Errorf("failed to register collector: %v", err)
	}
	return c
}
