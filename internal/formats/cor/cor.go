package cor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/multifile"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
	"github.com/scigolib/volio/internal/writer"
)

var log = logging.Logger("volio/cor")

// Descriptor returns the registry entry for COR directories.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:           registry.COR,
		Description:  "COR directory (COR-.info + COR-001..COR-256)",
		MultiFile:    true,
		Capabilities: registry.CapHeader | registry.CapRead | registry.CapWrite,
		Probe:        Probe,
		Codec:        Codec{},
	}
}

// Probe matches a directory holding COR-.info, or a file inside one.
func Probe(in registry.ProbeInput) bool {
	if in.IsDir {
		_, err := os.Stat(filepath.Join(in.Path, InfoName))
		return err == nil
	}
	return strings.HasPrefix(filepath.Base(in.Path), "COR-")
}

// Dir returns the COR directory for a path naming the directory itself or
// any file inside it.
func Dir(path string) string {
	if strings.HasPrefix(filepath.Base(path), "COR-") {
		return filepath.Dir(path)
	}
	return path
}

// Codec implements registry.Codec and registry.Writer.
type Codec struct{}

// ReadHeader implements registry.Codec.
func (Codec) ReadHeader(env *registry.Env) (*registry.Header, error) {
	dir := Dir(env.Path)
	info, err := readInfo(dir)
	if err != nil {
		return nil, err
	}
	v, err := core.NewHeader(info.Width, info.Height, info.Depth(), 1, core.UChar)
	if err != nil {
		return nil, utils.WrapError(dir, err)
	}
	sp := info.Spacing()
	v.SetSpacing(sp[0], sp[1], sp[2])
	v.Acq = info.Acq

	slices, err := multifile.Directory(dir, SliceTemplate, info.First, info.Last)
	if err != nil {
		return nil, err
	}

	fields := geometry.Fields{Width: info.Width, Height: info.Height, Depth: info.Depth(), Spacing: sp}
	if info.GoodRAS {
		axes := info.Axes
		fields.Axes = &axes
		fields.Center = info.Center
	}
	return &registry.Header{Volume: v, Fields: fields, Slices: slices, State: info}, nil
}

func readInfo(dir string) (*Info, error) {
	path := filepath.Join(dir, InfoName)
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapError(path, utils.ErrNoSuchFile)
		}
		return nil, utils.WrapError("open "+path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := ParseInfo(f)
	if err != nil {
		return nil, utils.WrapError(path, err)
	}
	return info, nil
}

// ReadPayload implements registry.Codec. COR volumes have a single frame,
// so a frame range is left to the caller.
func (Codec) ReadPayload(_ *registry.Env, h *registry.Header, _ *registry.FrameRange) (bool, error) {
	v := h.Volume
	if h.Slices == nil {
		return false, fmt.Errorf("cor: header has no slice map")
	}
	plane := v.Width() * v.Height()
	v.Allocate()
	for _, e := range h.Slices.Entries {
		if err := readSlice(v, e, plane); err != nil {
			return false, err
		}
	}
	return false, nil
}

func readSlice(v *core.Volume, e multifile.Entry, plane int) error {
	//nolint:gosec // G304: slice path from the directory listing
	f, err := os.Open(e.Path)
	if err != nil {
		return utils.WrapError("open "+e.Path, err)
	}
	err = v.ReadRaw(f, core.StoreUint8, nil, core.Scale{}, e.FirstSlice*plane, plane)
	if err = multierr.Append(err, f.Close()); err != nil {
		return utils.WrapError(e.Path, err)
	}
	return nil
}

// Write implements registry.Writer. The directory is created when missing;
// only single-frame uint8 volumes of 256^3 voxels can be stored.
func (Codec) Write(env *registry.Env, v *core.Volume) error {
	if v.Type() != core.UChar {
		return utils.Errorf(utils.ErrUnsupportedVoxelType, "cor stores uchar only, volume is %v", v.Type())
	}
	if v.Frames() != 1 {
		return fmt.Errorf("cor: cannot store %d frames", v.Frames())
	}
	if v.Width() != ConformedSize || v.Height() != ConformedSize || v.Depth() != ConformedSize {
		return utils.Errorf(utils.ErrUnsupportedDimensions, "cor stores %d^3 volumes, volume is %dx%dx%d",
			ConformedSize, v.Width(), v.Height(), v.Depth())
	}
	if !v.HasData() {
		return fmt.Errorf("cor: volume has no voxel data")
	}
	if err := geometry.CheckWritable(v.Geometry()); err != nil {
		return err
	}
	if sp := v.Spacing(); math.Abs(sp[0]-sp[1]) > 1e-6 {
		log.Warnw("cor stores one in-plane voxel size, using x", "x", sp[0], "y", sp[1])
	}

	dir := Dir(env.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.WrapError("create "+dir, err)
	}
	info := infoFor(v)
	plane := v.Width() * v.Height()
	for i, path := range multifile.DirectoryPaths(dir, SliceTemplate, info.First, info.Last) {
		if err := writeSlice(path, v, i*plane, plane); err != nil {
			return err
		}
	}

	w, err := writer.NewFileWriter(filepath.Join(dir, InfoName), writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if _, err := info.WriteTo(w); err != nil {
		return w.Abort(err)
	}
	return w.Close()
}

func writeSlice(path string, v *core.Volume, off, n int) error {
	w, err := writer.NewFileWriter(path, writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if err := w.WriteVoxels(v, off, n, core.StoreUint8, nil); err != nil {
		return w.Abort(err)
	}
	return w.Close()
}
