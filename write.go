package volio

import (
	"errors"
	"os"
	"strings"

	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
)

// Write stores v at path. The format comes from an "@TYPE" selector,
// WithFormat, or the extension; a path naming a directory is written as a
// COR volume. Frame selectors are rejected.
//
// Geometry is validated before any file is created. A failed companion file
// (the Analyze .mat) is reported with StageSidecar after the payload has
// been written.
func Write(v *Volume, path string, opts ...Option) error {
	o := collect(opts)
	s := o.Session
	reg := formats()

	fail := func(stage Stage, p, format string, err error) error {
		s.counters().Write(format, string(stage), 0)
		return &StageError{Stage: stage, Path: p, Err: err}
	}

	t, err := reg.ParsePath(path)
	if err != nil {
		return fail(StageResolve, path, "unknown", err)
	}
	if t.Frames != nil || o.Frames != nil {
		return fail(StageResolve, path, "unknown", utils.Errorf(utils.ErrFrameRange, "frame selection on a write path"))
	}
	override := t.Type
	if override == "" {
		override = o.Format
	}

	desc, err := reg.ClassifyForWrite(t.Path, override)
	if err != nil && override == "" && isDirPath(t.Path) {
		desc, _ = reg.Lookup(string(registry.COR))
		err = nil
	}
	if err != nil {
		return fail(StageResolve, t.Path, "unknown", err)
	}
	w, ok := desc.Codec.(registry.Writer)
	if !ok {
		return fail(StageResolve, t.Path, string(desc.ID), utils.Errorf(utils.ErrUnknownFormat, "format %s cannot be written", desc.ID))
	}

	if v == nil {
		return fail(StageWrite, t.Path, string(desc.ID), errors.New("nil volume"))
	}
	if s.CommandLine != "" {
		v = v.WithCommand(s.CommandLine)
	}
	cfg := s.config()
	env := &registry.Env{
		Path:          t.Path,
		Pipe:          o.pipeConfig(),
		SequenceStart: cfg.Sequence.Start,
		Log:           s.logger().With("path", t.Path, "format", desc.ID),
	}

	if err := w.Write(env, v); err != nil {
		var se *registry.SidecarError
		if errors.As(err, &se) {
			return fail(StageSidecar, se.Path, string(desc.ID), err)
		}
		return fail(StageWrite, t.Path, string(desc.ID), err)
	}
	s.counters().Write(string(desc.ID), "ok", v.NumVoxels()*v.Type().Size())
	env.Log.Debugw("wrote volume", "volume", v.String())
	return nil
}

func isDirPath(p string) bool {
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return true
	}
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
