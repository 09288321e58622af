package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/pipe"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
	"github.com/scigolib/volio/internal/writer"
)

// Descriptor returns the registry entry for NIfTI-1.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                   registry.NIfTI1,
		Description:          "NIfTI-1 (.nii, .nii.gz, .hdr/.img pair)",
		Extensions:           []string{".nii"},
		CompressedExtensions: []string{".nii.gz"},
		Aliases:              []string{"nii", "nifti"},
		Capabilities:         registry.CapHeader | registry.CapRead | registry.CapWrite,
		Probe:                Probe,
		Codec:                Codec{},
	}
}

// Probe matches a NIfTI magic in the prefix, or in the .hdr sibling of an
// .img file.
func Probe(in registry.ProbeInput) bool {
	if in.IsDir {
		return false
	}
	if HasMagic(in.Prefix) {
		_, err := DetectOrder(in.Prefix)
		return err == nil
	}
	if in.Gzipped || !strings.EqualFold(filepath.Ext(in.Path), ".img") {
		return false
	}
	b, err := readPrefix(pairPaths(in.Path).header, HeaderSize)
	return err == nil && HasMagic(b)
}

// Codec implements registry.Codec and registry.Writer.
type Codec struct{}

type files struct {
	header     string
	payload    string
	compressed bool
	pair       bool
}

func pairPaths(path string) files {
	stem := path[:len(path)-len(filepath.Ext(path))]
	ext := filepath.Ext(path)
	hdr, img := ".hdr", ".img"
	if ext == strings.ToUpper(ext) {
		hdr, img = ".HDR", ".IMG"
	}
	return files{header: stem + hdr, payload: stem + img, pair: true}
}

func resolve(path string) files {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".nii.gz"):
		return files{header: path, payload: path, compressed: true}
	case strings.HasSuffix(lower, ".hdr"), strings.HasSuffix(lower, ".img"):
		return pairPaths(path)
	default:
		return files{header: path, payload: path}
	}
}

type state struct {
	files   files
	hdr     *Header
	storage core.StorageType
	offset  int64
}

// ReadHeader implements registry.Codec.
func (Codec) ReadHeader(env *registry.Env) (*registry.Header, error) {
	fs := resolve(env.Path)
	raw, err := readHeaderBytes(fs, env.Pipe)
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	if fs.pair && h.Single() {
		env.Logger().Warnw("n+1 header in a .hdr/.img pair, reading payload from .img", "header", fs.header)
	}

	w, ht, d, frames, err := h.Shape()
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	st, err := h.Storage()
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	vt := st.VoxelType()
	if !h.Scale().Identity() {
		vt = core.Float
	}
	v, err := core.NewHeader(w, ht, d, frames, vt)
	if err != nil {
		return nil, err
	}

	sf := h.SpaceFactor()
	spacing := geometry.Vec3{
		math.Abs(float64(h.Pixdim[1])) * sf,
		math.Abs(float64(h.Pixdim[2])) * sf,
		math.Abs(float64(h.Pixdim[3])) * sf,
	}
	v.SetSpacing(spacing[0], spacing[1], spacing[2])
	v.Acq.TR = float64(h.Pixdim[4]) * h.TimeFactor()

	// Both encodings are passed on; the sform wins unless it is degenerate.
	fields := geometry.Fields{Width: w, Height: ht, Depth: d, Spacing: spacing}
	if h.SformCode > 0 {
		m := mat.NewDense(4, 4, nil)
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				m.Set(r, c, float64(h.Srow[r][c])*sf)
			}
		}
		m.Set(3, 3, 1)
		fields.Affine = m
	}
	if h.QformCode > 0 {
		qfac := 1.0
		if h.Pixdim[0] < 0 {
			qfac = -1
		}
		fields.Quatern = &geometry.Quatern{
			B:      float64(h.QuaternB),
			C:      float64(h.QuaternC),
			D:      float64(h.QuaternD),
			Offset: geometry.Vec3{float64(h.QOffset[0]) * sf, float64(h.QOffset[1]) * sf, float64(h.QOffset[2]) * sf},
			QFac:   qfac,
		}
	}

	offset := int64(h.VoxOffset)
	if !fs.pair && offset < SingleFileOffset {
		env.Logger().Warnw("vox_offset below minimum, using 352", "vox_offset", h.VoxOffset)
		offset = SingleFileOffset
	}
	return &registry.Header{
		Volume: v,
		Fields: fields,
		State:  &state{files: fs, hdr: h, storage: st, offset: offset},
	}, nil
}

// ReadPayload implements registry.Codec. Frame subranges are honored
// directly: plain files seek to the first frame, compressed streams skip it.
func (Codec) ReadPayload(env *registry.Env, h *registry.Header, frames *registry.FrameRange) (bool, error) {
	s, ok := h.State.(*state)
	if !ok {
		return false, fmt.Errorf("nifti: foreign header state %T", h.State)
	}
	v := h.Volume
	first, count := 0, v.Frames()
	if frames != nil {
		first, count = frames.Start, frames.Count()
		if err := v.SetFrameCount(count); err != nil {
			return false, err
		}
	}
	frameBytes := int64(v.VoxelsPerFrame()) * int64(s.storage.Size())
	skip := s.offset + int64(first)*frameBytes

	r, err := openPayload(s.files, env.Pipe, skip)
	if err != nil {
		return false, err
	}
	err = v.ReadRaw(r, s.storage, s.hdr.Order, s.hdr.Scale(), 0, count*v.VoxelsPerFrame())
	err = multierr.Append(err, r.Close())
	if err != nil {
		return false, utils.WrapError(s.files.payload, err)
	}
	return frames != nil, nil
}

// Write implements registry.Writer. Both sform and qform are written with
// code 1; the qform of a left-handed frame stores qfac = -1.
func (Codec) Write(env *registry.Env, v *core.Volume) error {
	if !v.HasData() {
		return fmt.Errorf("nifti: volume has no voxel data")
	}
	if err := geometry.CheckWritable(v.Geometry()); err != nil {
		return err
	}
	h, err := encodeVolume(v)
	if err != nil {
		return err
	}

	fs := resolve(env.Path)
	var compress *pipe.Config
	if fs.compressed {
		cfg := env.Pipe
		compress = &cfg
	}

	if !fs.pair {
		h.Magic = magicSingle
		h.VoxOffset = SingleFileOffset
		w, err := writer.NewFileWriter(fs.payload, writer.ModeTruncate, compress)
		if err != nil {
			return err
		}
		if err := writeSingle(w, h, v); err != nil {
			return w.Abort(err)
		}
		return w.Close()
	}

	h.Magic = magicPair
	h.VoxOffset = 0
	img, err := writer.NewFileWriter(fs.payload, writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if err := img.WriteVoxels(v, 0, v.NumVoxels(), core.StorageFor(v.Type()), h.Order); err != nil {
		return img.Abort(err)
	}
	if err := img.Close(); err != nil {
		return err
	}
	hdr, err := writer.NewFileWriter(fs.header, writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if _, err := hdr.Write(h.Encode()); err != nil {
		return hdr.Abort(err)
	}
	return hdr.Close()
}

func writeSingle(w *writer.FileWriter, h *Header, v *core.Volume) error {
	if _, err := w.Write(h.Encode()); err != nil {
		return err
	}
	// Extension flag: no extensions follow.
	if err := w.PadTo(SingleFileOffset); err != nil {
		return err
	}
	return w.WriteVoxels(v, 0, v.NumVoxels(), core.StorageFor(v.Type()), h.Order)
}

var datatypeFor = map[core.VoxelType]int16{
	core.UChar: DTUint8,
	core.Short: DTInt16,
	core.Int:   DTInt32,
	core.Float: DTFloat32,
}

func encodeVolume(v *core.Volume) (*Header, error) {
	dt, ok := datatypeFor[v.Type()]
	if !ok {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "nifti cannot store %v", v.Type())
	}
	h := &Header{
		Order:     binary.LittleEndian,
		Datatype:  dt,
		Bitpix:    int16(8 * v.Type().Size()),
		SclSlope:  1,
		XYZTUnits: unitMM | unitSec,
		Descrip:   "volio",
		QformCode: 1,
		SformCode: 1,
	}
	h.Dim = [8]int16{3, int16(v.Width()), int16(v.Height()), int16(v.Depth()), 1, 1, 1, 1}
	if v.Frames() > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(v.Frames())
	}
	for _, n := range []int{v.Width(), v.Height(), v.Depth(), v.Frames()} {
		if n > math.MaxInt16 {
			return nil, fmt.Errorf("nifti: dimension %d exceeds %d", n, math.MaxInt16)
		}
	}

	sp := v.Spacing()
	h.Pixdim = [8]float32{1, float32(sp[0]), float32(sp[1]), float32(sp[2]), float32(v.Acq.TR / 1000), 1, 1, 1}

	vox2ras := v.VoxelToRAS()
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			h.Srow[r][c] = float32(vox2ras.At(r, c))
		}
	}
	q, _, err := geometry.AffineToQuatern(vox2ras)
	if err != nil {
		return nil, err
	}
	h.QuaternB, h.QuaternC, h.QuaternD = float32(q.B), float32(q.C), float32(q.D)
	h.QOffset = [3]float32{float32(q.Offset[0]), float32(q.Offset[1]), float32(q.Offset[2])}
	h.Pixdim[0] = float32(q.QFac)
	return h, nil
}

func readHeaderBytes(fs files, cfg pipe.Config) ([]byte, error) {
	if !fs.compressed {
		return readPrefix(fs.header, HeaderSize)
	}
	r, err := pipe.OpenReader(fs.header, cfg)
	if err != nil {
		return nil, err
	}
	b := make([]byte, HeaderSize)
	_, err = io.ReadFull(r, b)
	err = multierr.Append(truncated(fs.header, err), r.Close())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func readPrefix(path string, n int) ([]byte, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapError(path, utils.ErrNoSuchFile)
		}
		return nil, utils.WrapError("open "+path, err)
	}
	defer func() { _ = f.Close() }()
	b := make([]byte, n)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, truncated(path, err)
	}
	return b, nil
}

func openPayload(fs files, cfg pipe.Config, skip int64) (io.ReadCloser, error) {
	if fs.compressed {
		r, err := pipe.OpenReader(fs.payload, cfg)
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, multierr.Append(truncated(fs.payload, err), r.Close())
		}
		return r, nil
	}
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(fs.payload)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapError(fs.payload, utils.ErrNoSuchFile)
		}
		return nil, utils.WrapError("open "+fs.payload, err)
	}
	if _, err := f.Seek(skip, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, utils.WrapError("seek "+fs.payload, err)
	}
	return f, nil
}

func truncated(path string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return utils.WrapError(path, utils.ErrTruncatedData)
	}
	return err
}
