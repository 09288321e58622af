package analyze

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/formats/nifti"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/multifile"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
	"github.com/scigolib/volio/internal/writer"
)

var log = logging.Logger("volio/analyze")

// Descriptor returns the registry entry for Analyze 7.5.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:           registry.Analyze,
		Description:  "Analyze 7.5 (.hdr/.img, SPM .mat sidecar)",
		Extensions:   []string{".img", ".hdr"},
		Aliases:      []string{"spm"},
		MultiFile:    true,
		Capabilities: registry.CapHeader | registry.CapRead | registry.CapWrite,
		Probe:        Probe,
		Codec:        Codec{},
	}
}

// Probe matches a .hdr, or the .hdr sibling of an .img, holding a valid
// sizeof_hdr and no NIfTI magic.
func Probe(in registry.ProbeInput) bool {
	if in.IsDir || in.Gzipped {
		return false
	}
	prefix := in.Prefix
	switch strings.ToLower(filepath.Ext(in.Path)) {
	case ".hdr":
	case ".img":
		b, err := readFile(resolve(in.Path).header, HeaderSize)
		if err != nil {
			return false
		}
		prefix = b
	default:
		return false
	}
	_, err := nifti.DetectOrder(prefix)
	return err == nil && !nifti.HasMagic(prefix)
}

// files names the members of one image set. Extensions follow the case of
// the path the caller gave.
type files struct {
	stem   string
	imgExt string
	header string
	image  string
	mat    string
}

func resolve(path string) files {
	stem, ext := path, filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".img", ".hdr", ".mat":
		stem = path[:len(path)-len(ext)]
	default:
		ext = ".img"
	}
	return withStem(stem, ext == strings.ToUpper(ext))
}

func withStem(stem string, upper bool) files {
	hdr, img, m := ".hdr", ".img", ".mat"
	if upper {
		hdr, img, m = ".HDR", ".IMG", ".MAT"
	}
	return files{stem: stem, imgExt: img, header: stem + hdr, image: stem + img, mat: stem + m}
}

type state struct {
	files   files
	hdr     *Header
	storage core.StorageType
}

// ReadHeader implements registry.Codec. A missing <stem>.img resolves to the
// first numbered member of a sequence, and a 3-D seed with numbered
// siblings reads as one frame per file.
func (Codec) ReadHeader(env *registry.Env) (*registry.Header, error) {
	fs := resolve(env.Path)
	if _, err := os.Stat(fs.header); errors.Is(err, os.ErrNotExist) {
		seed, ok := multifile.FindNumbered(fs.stem, fs.imgExt, env.SequenceStart)
		if !ok {
			return nil, utils.WrapError(fs.header, utils.ErrNoSuchFile)
		}
		env.Logger().Debugw("resolved sequence seed", "path", env.Path, "seed", seed)
		fs = resolve(seed)
	}

	raw, err := readFile(fs.header, HeaderSize)
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	st, err := h.Storage()
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	w, ht, d, frames, err := h.Shape()
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}

	var slices *multifile.SliceMap
	if frames == 1 {
		if seq, err := multifile.ScanSequence(fs.image, 0); err == nil && seq.Count() > 1 {
			slices = multifile.PerFrame(seq.Paths(), d)
			frames = seq.Count()
			env.Logger().Debugw("reading frame sequence", "first", seq.Name(seq.First), "frames", frames)
		}
	}

	vt := st.VoxelType()
	if !h.StoredScale().Identity() {
		vt = core.Float
	}
	v, err := core.NewHeader(w, ht, d, frames, vt)
	if err != nil {
		return nil, utils.WrapError(fs.header, err)
	}
	sp := h.Spacing()
	v.SetSpacing(sp[0], sp[1], sp[2])
	v.Acq.TR = float64(h.Pixdim[4])

	fields := geometry.Fields{Width: w, Height: ht, Depth: d, Spacing: sp}
	m, found, err := readMat(fs.mat)
	switch {
	case found && err == nil:
		fields.Affine = toZeroBased(m)
	case found:
		env.Logger().Warnw("ignoring unreadable .mat sidecar", "path", fs.mat, "error", err)
	}
	// The orient code backs up a sidecar that turns out degenerate.
	if o, flipped, ok := h.Orientation(); ok {
		fields.Orientation, fields.Flipped = o, flipped
		axes, _ := geometry.TagCosines(o, flipped)
		if c, ok := h.OriginCenter(axes); ok {
			fields.Center = c
		}
	}

	return &registry.Header{
		Volume: v,
		Fields: fields,
		Slices: slices,
		State:  &state{files: fs, hdr: h, storage: st},
	}, nil
}

// Codec implements registry.Codec and registry.Writer.
type Codec struct{}

// ReadPayload implements registry.Codec. Frame ranges are applied by
// seeking within one file or by skipping files of a sequence.
func (Codec) ReadPayload(env *registry.Env, h *registry.Header, frames *registry.FrameRange) (bool, error) {
	s, ok := h.State.(*state)
	if !ok {
		return false, fmt.Errorf("analyze: foreign header state %T", h.State)
	}
	v := h.Volume
	first, count := 0, v.Frames()
	if frames != nil {
		first, count = frames.Start, frames.Count()
		if err := v.SetFrameCount(count); err != nil {
			return false, err
		}
	}
	vpf := v.VoxelsPerFrame()
	offset := int64(max(s.hdr.VoxOffset, 0))

	if h.Slices == nil {
		skip := offset + int64(first)*int64(vpf)*int64(s.storage.Size())
		if err := readImage(s.files.image, skip, v, s, 0, count*vpf); err != nil {
			return false, err
		}
		return frames != nil, nil
	}
	for k := 0; k < count; k++ {
		e := h.Slices.Entries[first+k]
		if err := readImage(e.Path, offset, v, s, k*vpf, vpf); err != nil {
			return false, err
		}
	}
	return frames != nil, nil
}

func readImage(path string, skip int64, v *core.Volume, s *state, off, n int) error {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return utils.WrapError(path, utils.ErrNoSuchFile)
		}
		return utils.WrapError("open "+path, err)
	}
	if _, err := f.Seek(skip, io.SeekStart); err != nil {
		_ = f.Close()
		return utils.WrapError("seek "+path, err)
	}
	err = v.ReadRaw(f, s.storage, s.hdr.Order, s.hdr.StoredScale(), off, n)
	if err = multierr.Append(err, f.Close()); err != nil {
		return utils.WrapError(path, err)
	}
	return nil
}

// Write implements registry.Writer. A single frame is written as one image
// set; more frames become a numbered sequence starting at the configured
// index. Within a set the order is .img, .hdr, .mat, and a failed .mat
// fails the call with a *registry.SidecarError.
func (Codec) Write(env *registry.Env, v *core.Volume) error {
	if !v.HasData() {
		return fmt.Errorf("analyze: volume has no voxel data")
	}
	if _, ok := datatypeFor[v.Type()]; !ok {
		return utils.Errorf(utils.ErrUnsupportedVoxelType, "analyze cannot store %v", v.Type())
	}
	if err := geometry.CheckWritable(v.Geometry()); err != nil {
		return err
	}
	for _, n := range []int{v.Width(), v.Height(), v.Depth()} {
		if n > math.MaxInt16 {
			return fmt.Errorf("analyze: dimension %d exceeds %d", n, math.MaxInt16)
		}
	}

	fs := resolve(env.Path)
	if v.Frames() == 1 {
		return writeSet(fs, v, 0)
	}
	upper := fs.imgExt == ".IMG"
	for f := 0; f < v.Frames(); f++ {
		member := withStem(fmt.Sprintf("%s%03d", fs.stem, env.SequenceStart+f), upper)
		if err := writeSet(member, v, f); err != nil {
			return err
		}
	}
	log.Debugw("wrote analyze sequence", "stem", fs.stem, "frames", v.Frames(), "start", env.SequenceStart)
	return nil
}

func writeSet(fs files, v *core.Volume, frame int) error {
	h, err := headerFor(v, frame)
	if err != nil {
		return err
	}
	st := core.StorageFor(v.Type())
	vpf := v.VoxelsPerFrame()

	img, err := writer.NewFileWriter(fs.image, writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if err := img.WriteVoxels(v, frame*vpf, vpf, st, h.Order); err != nil {
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
	if err := hdr.Close(); err != nil {
		return err
	}

	if err := writeMat(fs.mat, toOneBased(v.VoxelToRAS())); err != nil {
		return &registry.SidecarError{Path: fs.mat, Err: err}
	}
	return nil
}

func writeMat(path string, m mat.Matrix) error {
	w, err := writer.NewFileWriter(path, writer.ModeTruncate, nil)
	if err != nil {
		return err
	}
	if _, err := w.Write(EncodeMat(m)); err != nil {
		return w.Abort(err)
	}
	return w.Close()
}

// headerFor builds the 3-D header of one frame of v.
func headerFor(v *core.Volume, frame int) (*Header, error) {
	sp := v.Spacing()
	dt := datatypeFor[v.Type()]
	h := &Header{
		Dim:      [8]int16{4, int16(v.Width()), int16(v.Height()), int16(v.Depth()), 1},
		Datatype: dt,
		Bitpix:   int16(8 * v.Type().Size()),
		Pixdim:   [8]float32{0, float32(sp[0]), float32(sp[1]), float32(sp[2]), float32(v.Acq.TR)},
		Scale:    1,
		Descrip:  "volio",
		Orient:   orientFor(v.Geometry()),
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	vpf := v.VoxelsPerFrame()
	for i := frame * vpf; i < (frame+1)*vpf; i++ {
		x := v.At(i)
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	h.GLMin, h.GLMax = clampInt32(lo), clampInt32(hi)

	inv, err := v.RASToVoxel()
	if err != nil {
		return nil, err
	}
	for i := range h.Origin {
		h.Origin[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(inv.At(i, 3)+1))))
	}
	return h, nil
}

// orientFor returns the orient code whose canonical cosines name the same
// axis directions as fr, or 0.
func orientFor(fr geometry.Frame) byte {
	want := fr.OrientationString()
	for code := byte(0); code <= 5; code++ {
		h := Header{Orient: code}
		o, flipped, _ := h.Orientation()
		axes, _ := geometry.TagCosines(o, flipped)
		if (geometry.Frame{Axes: axes}).OrientationString() == want {
			return code
		}
	}
	return 0
}

func clampInt32(x float64) int32 {
	if math.IsNaN(x) {
		return 0
	}
	return int32(math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(x))))
}

func readFile(path string, n int) ([]byte, error) {
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
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, utils.WrapError(path, utils.ErrTruncatedData)
		}
		return nil, utils.WrapError(path, err)
	}
	return b, nil
}
