package volio

import (
	"errors"

	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
)

// Read loads the volume named by path, voxels included.
//
// Example:
//
//	v, err := volio.Read("subj/mri/orig.mgz")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(v.Geometry().OrientationString())
func Read(path string, opts ...Option) (*Volume, error) {
	return read(path, false, collect(opts))
}

// ReadHeader loads dimensions, type, geometry and acquisition parameters
// without the voxel buffer. A frame selector sets the reported frame count.
func ReadHeader(path string, opts ...Option) (*Volume, error) {
	return read(path, true, collect(opts))
}

type readCall struct {
	raw    string
	opts   *Options
	desc   *registry.Descriptor
	env    *registry.Env
	frames *registry.FrameRange
}

func (c *readCall) fail(stage Stage, err error) error {
	format := "unknown"
	if c.desc != nil {
		format = string(c.desc.ID)
	}
	c.opts.Session.counters().Read(format, string(stage), 0)
	path := c.raw
	if c.env != nil {
		path = c.env.Path
	}
	return &StageError{Stage: stage, Path: path, Err: err}
}

func read(raw string, headerOnly bool, o *Options) (*Volume, error) {
	c := &readCall{raw: raw, opts: o}
	s := o.Session
	reg := formats()

	t, err := reg.ParsePath(raw)
	if err != nil {
		return nil, c.fail(StageResolve, err)
	}
	override := t.Type
	if override == "" {
		override = o.Format
	}
	c.frames = t.Frames
	if c.frames == nil {
		c.frames = o.Frames
	}

	c.desc, err = reg.Classify(t.Path, override)
	if err != nil {
		return nil, c.fail(StageResolve, err)
	}
	cfg := s.config()
	c.env = &registry.Env{
		Path:          t.Path,
		Pipe:          o.pipeConfig(),
		SequenceStart: cfg.Sequence.Start,
		Log:           s.logger().With("path", t.Path, "format", c.desc.ID),
		HeaderOnly:    headerOnly,
	}
	logger := c.env.Log

	h, err := c.desc.Codec.ReadHeader(c.env)
	if err != nil {
		if c.desc.MultiFile && errors.Is(err, utils.ErrInconsistentSliceCount) {
			return nil, c.fail(StageAssemble, err)
		}
		return nil, c.fail(StageHeader, err)
	}

	res := geometry.Finalize(h.Fields)
	h.Volume.SetGeometry(res.Frame)
	if res.Warning != "" {
		logger.Warnw(res.Warning, "rule", res.Rule.String())
	}
	if res.Rule == geometry.RuleDefault {
		s.counters().GeometryFallback(string(c.desc.ID))
	}

	if c.frames != nil {
		if err := c.frames.Check(h.Volume.Frames()); err != nil {
			return nil, c.fail(StagePayload, err)
		}
	}

	if headerOnly {
		v := h.Volume
		if c.frames != nil {
			if err := v.SetFrameCount(c.frames.Count()); err != nil {
				return nil, c.fail(StagePayload, err)
			}
		}
		c.report(res, 0)
		s.counters().Read(string(c.desc.ID), "ok", 0)
		return v, nil
	}

	applied, err := c.desc.Codec.ReadPayload(c.env, h, c.frames)
	if err != nil {
		if c.desc.MultiFile && errors.Is(err, utils.ErrInconsistentSliceCount) {
			return nil, c.fail(StageAssemble, err)
		}
		return nil, c.fail(StagePayload, err)
	}
	v := h.Volume
	if c.frames != nil && !applied {
		if v, err = v.ExtractFrames(c.frames.Start, c.frames.End); err != nil {
			return nil, c.fail(StagePayload, err)
		}
	}

	nonFinite := 0
	if cfg.Read.Sanitize {
		if nonFinite = v.SanitizeNonFinite(); nonFinite > 0 {
			logger.Warnw("replaced non-finite voxels with zero", "count", nonFinite)
			s.counters().NonFinite(string(c.desc.ID), nonFinite)
		}
	}

	if p := s.DebugVoxel; p != nil {
		if v.InBounds(p[0], p[1], p[2], 0) {
			logger.Infow("debug voxel", "x", p[0], "y", p[1], "z", p[2], "value", v.Voxel(p[0], p[1], p[2], 0))
		} else {
			logger.Debugw("debug voxel outside volume", "voxel", *p, "volume", v.String())
		}
	}

	c.report(res, nonFinite)
	s.counters().Read(string(c.desc.ID), "ok", v.NumVoxels()*v.Type().Size())
	logger.Debugw("read volume", "volume", v.String(), "rule", res.Rule.String())
	return v, nil
}

func (c *readCall) report(res geometry.Result, nonFinite int) {
	r := c.opts.Report
	if r == nil {
		return
	}
	*r = ReadReport{
		Format:           c.desc.ID,
		Rule:             res.Rule.String(),
		GeometryFallback: res.Rule == geometry.RuleDefault,
		NonFinite:        nonFinite,
	}
}
