// Copyright (c) 2025 SciGo Volio Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package volio

import "github.com/scigolib/volio/internal/pipe"

// CompressionMode selects how gzip streams are produced and consumed.
type CompressionMode = pipe.Mode

// Compression modes.
const (
	// CompressExternal spawns the configured gzip program.
	CompressExternal = pipe.External
	// CompressBuiltin compresses in process.
	CompressBuiltin = pipe.Builtin
)

// Options collects the settings of one Read, ReadHeader or Write call.
type Options struct {
	Format      string
	Frames      *FrameRange
	Session     *Session
	Compression *CompressionMode
	Report      *ReadReport
}

// Option configures a single call.
// This follows the Functional Options Pattern.
//
// Example:
//
//	v, err := volio.Read("bold.nii.gz",
//	    volio.WithFrames(0, 9),
//	    volio.WithCompression(volio.CompressBuiltin),
//	)
type Option func(*Options)

// ReadReport receives what happened during a read.
type ReadReport struct {
	Format FormatID

	// Rule is the geometry rule that produced the frame, e.g. "affine".
	Rule string

	// GeometryFallback is set when no stored orientation was usable and
	// the default axes were applied.
	GeometryFallback bool

	// NonFinite counts float voxels replaced with zero.
	NonFinite int
}

// WithFormat forces the format by id or alias, like an "@TYPE" selector.
// A selector in the path takes precedence.
func WithFormat(name string) Option {
	return func(o *Options) { o.Format = name }
}

// WithFrames selects frames start..end inclusive, like a "#start:end"
// selector. A selector in the path takes precedence. Write rejects it.
func WithFrames(start, end int) Option {
	return func(o *Options) { o.Frames = &FrameRange{Start: start, End: end} }
}

// WithSession runs the call in s.
func WithSession(s *Session) Option {
	return func(o *Options) { o.Session = s }
}

// WithCompression overrides the session's compression mode.
func WithCompression(m CompressionMode) Option {
	return func(o *Options) { o.Compression = &m }
}

// WithReport fills r when a read succeeds.
func WithReport(r *ReadReport) Option {
	return func(o *Options) { o.Report = r }
}

func collect(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Session == nil {
		o.Session = NewSession()
	}
	return o
}

func (o *Options) pipeConfig() pipe.Config {
	cfg := o.Session.config().Pipe()
	if o.Compression != nil {
		cfg.Mode = *o.Compression
	}
	return cfg
}
