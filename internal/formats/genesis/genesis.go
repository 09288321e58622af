// Package genesis reads GE Signa Genesis slice files (I.001, I.002, ...).
// Each file holds one 16-bit slice; a volume is the numbered run of files
// around the one named.
package genesis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/multifile"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
)

var log = logging.Logger("volio/genesis")

// Magic opens every Genesis file.
var Magic = []byte("IMGF")

var order = binary.BigEndian

// File header offsets.
const (
	offPixelData   = 4
	offWidth       = 8
	offHeight      = 12
	offBits        = 16
	offCompression = 20
	offImageHeader = 148
	fileHeaderSize = 152
)

// Image header offsets, relative to the image header pointer.
const (
	offSliceThick = 26
	offPixsizeX   = 50
	offPixsizeY   = 54
	offCenter     = 130
	offNormal     = 142
	offTopLeft    = 154
	offTopRight   = 166
	offBotRight   = 178
	offTR         = 194
	offTI         = 198
	offTE         = 202
	offFlip       = 254
)

const imageHeaderSize = 256

// Slice is the decoded header of one file. Positions are RAS mm.
type Slice struct {
	PixelOffset   int64
	Width, Height int
	Bits          int
	Compression   int32
	Thickness     float64
	PixelSize     [2]float64
	Center        geometry.Vec3
	Normal        geometry.Vec3
	TopLeft       geometry.Vec3
	TopRight      geometry.Vec3
	BottomRight   geometry.Vec3
	Acq           core.Acquisition
}

// Descriptor returns the registry entry for Genesis slices.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:           registry.Genesis,
		Description:  "GE Signa Genesis slice files (read only)",
		Aliases:      []string{"ge", "signa"},
		MultiFile:    true,
		Capabilities: registry.CapHeader | registry.CapRead,
		Probe: func(in registry.ProbeInput) bool {
			return !in.IsDir && !in.Gzipped && bytes.HasPrefix(in.Prefix, Magic)
		},
		Codec: Codec{},
	}
}

// lpsToRAS reads a float32 LPS triplet and flips it to RAS.
func lpsToRAS(b []byte, off int) geometry.Vec3 {
	return geometry.Vec3{
		-float64(utils.Float32At(b, off, order)),
		-float64(utils.Float32At(b, off+4, order)),
		float64(utils.Float32At(b, off+8, order)),
	}
}

// DecodeSlice parses the file header and image header of one file.
func DecodeSlice(r io.ReaderAt) (*Slice, error) {
	fh := utils.GetBuffer(fileHeaderSize)
	defer utils.ReleaseBuffer(fh)
	if _, err := r.ReadAt(fh, 0); err != nil {
		return nil, utils.WrapError("genesis file header", utils.ErrTruncatedData)
	}
	if !bytes.HasPrefix(fh, Magic) {
		return nil, utils.Errorf(utils.ErrBadMagic, "no IMGF magic")
	}
	s := &Slice{
		PixelOffset: int64(utils.Int32At(fh, offPixelData, order)),
		Width:       int(utils.Int32At(fh, offWidth, order)),
		Height:      int(utils.Int32At(fh, offHeight, order)),
		Bits:        int(utils.Int32At(fh, offBits, order)),
		Compression: utils.Int32At(fh, offCompression, order),
	}
	ptr := int64(utils.Int32At(fh, offImageHeader, order))
	ih := utils.GetBuffer(imageHeaderSize)
	defer utils.ReleaseBuffer(ih)
	if _, err := r.ReadAt(ih, ptr); err != nil {
		return nil, utils.WrapError("genesis image header", utils.ErrTruncatedData)
	}
	s.Thickness = float64(utils.Float32At(ih, offSliceThick, order))
	s.PixelSize = [2]float64{
		float64(utils.Float32At(ih, offPixsizeX, order)),
		float64(utils.Float32At(ih, offPixsizeY, order)),
	}
	s.Center = lpsToRAS(ih, offCenter)
	s.Normal = lpsToRAS(ih, offNormal)
	s.TopLeft = lpsToRAS(ih, offTopLeft)
	s.TopRight = lpsToRAS(ih, offTopRight)
	s.BottomRight = lpsToRAS(ih, offBotRight)
	s.Acq = core.Acquisition{
		TR:        float64(utils.Int32At(ih, offTR, order)) / 1000,
		TI:        float64(utils.Int32At(ih, offTI, order)) / 1000,
		TE:        float64(utils.Int32At(ih, offTE, order)) / 1000,
		FlipAngle: float64(utils.Int16At(ih, offFlip, order)) * math.Pi / 180,
	}
	return s, nil
}

func readSlice(path string) (*Slice, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapError(path, utils.ErrNoSuchFile)
		}
		return nil, utils.WrapError("open "+path, err)
	}
	defer func() { _ = f.Close() }()
	s, err := DecodeSlice(f)
	if err != nil {
		return nil, utils.WrapError(path, err)
	}
	return s, nil
}

// Codec implements registry.Codec.
type Codec struct{}

type state struct {
	first *Slice
}

// ReadHeader implements registry.Codec.
func (Codec) ReadHeader(env *registry.Env) (*registry.Header, error) {
	first, err := readSlice(env.Path)
	if err != nil {
		return nil, err
	}
	if first.Bits != 16 {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "%s: %d bits per pixel", env.Path, first.Bits)
	}
	if first.Compression != 0 {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "%s: compression %d", env.Path, first.Compression)
	}

	paths := []string{env.Path}
	if seq, err := multifile.ScanSequence(env.Path, 0); err == nil {
		paths = seq.Paths()
	} else {
		env.Logger().Debugw("no slice sequence, reading one slice", "path", env.Path, "error", err)
	}
	slices, err := multifile.PerSlice(paths, len(paths), 1)
	if err != nil {
		return nil, err
	}

	if paths[0] != env.Path {
		if first, err = readSlice(paths[0]); err != nil {
			return nil, err
		}
	}
	last := first
	if len(paths) > 1 {
		if last, err = readSlice(paths[len(paths)-1]); err != nil {
			return nil, err
		}
	}

	v, err := core.NewHeader(first.Width, first.Height, len(paths), 1, core.Short)
	if err != nil {
		return nil, utils.WrapError(env.Path, err)
	}
	v.Acq = first.Acq

	fields := sliceFields(first, last, len(paths))
	v.SetSpacing(fields.Spacing[0], fields.Spacing[1], fields.Spacing[2])
	return &registry.Header{Volume: v, Fields: fields, Slices: slices, State: &state{first: first}}, nil
}

// sliceFields derives cosines from the corner points of the first slice and
// the slice direction from the first and last slice centers.
func sliceFields(first, last *Slice, depth int) geometry.Fields {
	f := geometry.Fields{Width: first.Width, Height: first.Height, Depth: depth}
	x := sub(first.TopRight, first.TopLeft)
	y := sub(first.BottomRight, first.TopRight)
	z := first.Normal
	dz := first.Thickness
	if depth > 1 {
		z = sub(last.Center, first.Center)
		dz = z.Norm() / float64(depth-1)
	}
	f.Spacing = geometry.Vec3{first.PixelSize[0], first.PixelSize[1], dz}

	axes := [3]geometry.Vec3{x.Normalized(), y.Normalized(), z.Normalized()}
	f.Axes = &axes
	for i := range f.Center {
		f.Center[i] = (first.Center[i] + last.Center[i]) / 2
	}
	return f
}

func sub(a, b geometry.Vec3) geometry.Vec3 {
	return geometry.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// ReadPayload implements registry.Codec. Volumes have one frame.
func (Codec) ReadPayload(_ *registry.Env, h *registry.Header, _ *registry.FrameRange) (bool, error) {
	if h.Slices == nil {
		return false, fmt.Errorf("genesis: header has no slice map")
	}
	v := h.Volume
	plane := v.Width() * v.Height()
	v.Allocate()
	for _, e := range h.Slices.Entries {
		if err := readPixels(v, e, plane); err != nil {
			return false, err
		}
	}
	log.Debugw("read genesis slices", "count", h.Slices.Len())
	return false, nil
}

func readPixels(v *core.Volume, e multifile.Entry, plane int) error {
	//nolint:gosec // G304: slice path from the sequence scan
	f, err := os.Open(e.Path)
	if err != nil {
		return utils.WrapError("open "+e.Path, err)
	}
	err = func() error {
		s, err := DecodeSlice(f)
		if err != nil {
			return err
		}
		if s.Width != v.Width() || s.Height != v.Height() {
			return utils.Errorf(utils.ErrInconsistentSliceCount, "slice is %dx%d, volume is %dx%d", s.Width, s.Height, v.Width(), v.Height())
		}
		if _, err := f.Seek(s.PixelOffset, io.SeekStart); err != nil {
			return err
		}
		return v.ReadRaw(f, core.StoreInt16, order, core.Scale{}, e.FirstSlice*plane, plane)
	}()
	if err = multierr.Append(err, f.Close()); err != nil {
		return utils.WrapError(e.Path, err)
	}
	return nil
}
