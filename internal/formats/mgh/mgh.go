package mgh

import (
	"errors"
	"fmt"
	"io"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/pipe"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
	"github.com/scigolib/volio/internal/writer"
)

var log = logging.Logger("volio/mgh")

const allCaps = registry.CapHeader | registry.CapRead | registry.CapWrite

// Descriptor returns the registry entry for uncompressed MGH.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:           registry.MGH,
		Description:  "MGH volume (.mgh)",
		Extensions:   []string{".mgh"},
		Capabilities: allCaps,
		Probe: func(in registry.ProbeInput) bool {
			return !in.IsDir && !in.Gzipped && Plausible(in.Prefix)
		},
		Codec: Codec{},
	}
}

// CompressedDescriptor returns the registry entry for gzipped MGH.
func CompressedDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                   registry.MGZ,
		Description:          "gzip-compressed MGH volume (.mgz, .mgh.gz)",
		CompressedExtensions: []string{".mgz", ".mgh.gz"},
		Aliases:              []string{"mgh.gz"},
		Capabilities:         allCaps,
		Probe: func(in registry.ProbeInput) bool {
			return !in.IsDir && in.Gzipped && Plausible(in.Prefix)
		},
		Codec: Codec{Compressed: true},
	}
}

// Codec implements registry.Codec and registry.Writer. Compressed selects
// the gzip stream variant.
type Codec struct {
	Compressed bool
}

type state struct {
	hdr      *Header
	storage  core.StorageType
	tailRead bool
}

func (c Codec) open(env *registry.Env) (io.ReadCloser, error) {
	if c.Compressed {
		return pipe.OpenReader(env.Path, env.Pipe)
	}
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(env.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, utils.WrapError(env.Path, utils.ErrNoSuchFile)
		}
		return nil, utils.WrapError("open "+env.Path, err)
	}
	return f, nil
}

// skip advances r by n bytes, seeking when r is a plain file.
func skip(r io.Reader, n int64) error {
	if n == 0 {
		return nil
	}
	if f, ok := r.(*os.File); ok {
		_, err := f.Seek(n, io.SeekCurrent)
		return err
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		if errors.Is(err, io.EOF) {
			return utils.ErrTruncatedData
		}
		return err
	}
	return nil
}

// ReadHeader implements registry.Codec. The tail of a plain file is read
// right away; a compressed stream is only walked to its tail when no payload
// read follows.
func (c Codec) ReadHeader(env *registry.Env) (*registry.Header, error) {
	r, err := c.open(env)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, utils.WrapError(env.Path, utils.ErrTruncatedData)
		}
		return nil, utils.WrapError(env.Path, err)
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, utils.WrapError(env.Path, err)
	}
	st, err := h.Storage()
	if err != nil {
		return nil, utils.WrapError(env.Path, err)
	}
	v, err := core.NewHeader(int(h.Width), int(h.Height), int(h.Depth), int(h.Frames), st.VoxelType())
	if err != nil {
		return nil, utils.WrapError(env.Path, err)
	}
	fields := h.Fields()
	v.SetSpacing(fields.Spacing[0], fields.Spacing[1], fields.Spacing[2])

	s := &state{hdr: h, storage: st}
	if !c.Compressed || env.HeaderOnly {
		payload := int64(v.NumVoxels()) * int64(st.Size())
		if err := skip(r, payload); err != nil {
			return nil, utils.WrapError(env.Path, err)
		}
		t, err := readTail(r, env.Logger())
		if err != nil {
			return nil, utils.WrapError(env.Path+" tail", err)
		}
		t.apply(v)
		s.tailRead = true
	}

	return &registry.Header{Volume: v, Fields: fields, State: s}, nil
}

// ReadPayload implements registry.Codec. Frame subranges are always
// applied: plain files seek, compressed streams discard.
func (c Codec) ReadPayload(env *registry.Env, h *registry.Header, frames *registry.FrameRange) (bool, error) {
	s, ok := h.State.(*state)
	if !ok {
		return false, fmt.Errorf("mgh: foreign header state %T", h.State)
	}
	v := h.Volume
	total := v.Frames()
	first, count := 0, total
	if frames != nil {
		first, count = frames.Start, frames.Count()
		if err := v.SetFrameCount(count); err != nil {
			return false, err
		}
	}
	frameBytes := int64(v.VoxelsPerFrame()) * int64(s.storage.Size())

	r, err := c.open(env)
	if err != nil {
		return false, err
	}
	err = c.readFrames(env, r, s, v, first, count, total, frameBytes)
	if err = multierr.Append(err, r.Close()); err != nil {
		return false, utils.WrapError(env.Path, err)
	}
	return frames != nil, nil
}

func (c Codec) readFrames(env *registry.Env, r io.Reader, s *state, v *core.Volume, first, count, total int, frameBytes int64) error {
	if err := skip(r, HeaderSize+int64(first)*frameBytes); err != nil {
		return err
	}
	if err := v.ReadRaw(r, s.storage, order, core.Scale{}, 0, count*v.VoxelsPerFrame()); err != nil {
		return err
	}
	if s.tailRead {
		return nil
	}
	if err := skip(r, int64(total-first-count)*frameBytes); err != nil {
		return err
	}
	t, err := readTail(r, env.Logger())
	if err != nil {
		return err
	}
	t.apply(v)
	s.tailRead = true
	return nil
}

// Write implements registry.Writer. goodRASflag is set when the volume's
// geometry is valid; every geometry field is written either way.
func (c Codec) Write(env *registry.Env, v *core.Volume) error {
	if !v.HasData() {
		return fmt.Errorf("mgh: volume has no voxel data")
	}
	if err := geometry.CheckWritable(v.Geometry()); err != nil {
		return err
	}
	h, err := headerFor(v)
	if err != nil {
		return err
	}
	var compress *pipe.Config
	if c.Compressed {
		cfg := env.Pipe
		compress = &cfg
	}
	w, err := writer.NewFileWriter(env.Path, writer.ModeTruncate, compress)
	if err != nil {
		return err
	}
	if _, err := w.Write(h.Encode()); err != nil {
		return w.Abort(err)
	}
	st, _ := h.Storage()
	if err := w.WriteVoxels(v, 0, v.NumVoxels(), st, order); err != nil {
		return w.Abort(err)
	}
	if err := writeTail(w, v); err != nil {
		return w.Abort(err)
	}
	size := w.Offset()
	if err := w.Close(); err != nil {
		return multierr.Append(err, os.Remove(env.Path))
	}
	log.Debugw("wrote mgh", "path", w.Path(), "compressed", w.Compressed(), "bytes", size)
	return nil
}
