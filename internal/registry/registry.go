// Package registry maps paths and file contents to volume formats and holds
// the codec registered for each one.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/multifile"
	"github.com/scigolib/volio/internal/pipe"
	"github.com/scigolib/volio/internal/utils"
)

var log = logging.Logger("volio/registry")

// FormatID names a supported format.
type FormatID string

// Registered formats.
const (
	COR     FormatID = "cor"
	NIfTI1  FormatID = "nifti1"
	MGH     FormatID = "mgh"
	MGZ     FormatID = "mgz"
	Analyze FormatID = "analyze"
	Genesis FormatID = "genesis"
)

// Capability is a bit set of what a codec implements.
type Capability uint8

// Capabilities.
const (
	CapHeader Capability = 1 << iota
	CapRead
	CapWrite
)

// Has reports whether all bits of c2 are set in c.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

// String implements fmt.Stringer.
func (c Capability) String() string {
	var parts []string
	if c.Has(CapHeader) {
		parts = append(parts, "header")
	}
	if c.Has(CapRead) {
		parts = append(parts, "read")
	}
	if c.Has(CapWrite) {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Probe inspects a candidate file. Prefix holds up to utils.HeaderBufferSize
// leading bytes, already decompressed when Gzipped is set. Directories are
// probed with an empty prefix and IsDir set.
type Probe func(in ProbeInput) bool

// ProbeInput is what a Probe sees.
type ProbeInput struct {
	Path    string
	Prefix  []byte
	Gzipped bool
	IsDir   bool
}

// Descriptor is the static description of a format.
type Descriptor struct {
	ID          FormatID
	Description string

	// Extensions are matched case-insensitively against the path suffix,
	// longest first. CompressedExtensions are also matched before any
	// content is sniffed.
	Extensions           []string
	CompressedExtensions []string
	Aliases              []string

	MultiFile    bool
	Capabilities Capability
	Probe        Probe
	Codec        Codec
}

// Names returns the id followed by every alias.
func (d *Descriptor) Names() []string {
	return append([]string{string(d.ID)}, d.Aliases...)
}

// FrameRange is an inclusive frame selection.
type FrameRange struct {
	Start, End int
}

// Count returns the number of selected frames.
func (r FrameRange) Count() int { return r.End - r.Start + 1 }

// Check validates r against a volume's frame count.
func (r FrameRange) Check(frames int) error {
	if r.Start < 0 || r.Start >= frames || r.End < r.Start || r.End >= frames {
		return utils.Errorf(utils.ErrFrameRange, "frames %d..%d of %d", r.Start, r.End, frames)
	}
	return nil
}

// String implements fmt.Stringer.
func (r FrameRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("#%d", r.Start)
	}
	return fmt.Sprintf("#%d:%d", r.Start, r.End)
}

// Env carries per-call settings into a codec. Nothing in it outlives the call.
type Env struct {
	Path          string
	Pipe          pipe.Config
	SequenceStart int
	Log           *zap.SugaredLogger

	// HeaderOnly is set when ReadPayload will not follow. Codecs whose
	// trailing metadata sits behind a non-seekable payload read it in
	// ReadHeader only in that case.
	HeaderOnly bool
}

// Logger returns the call's logger, falling back to the registry logger.
func (e *Env) Logger() *zap.SugaredLogger {
	if e != nil && e.Log != nil {
		return e.Log
	}
	return log.With("path", e.pathOrEmpty())
}

func (e *Env) pathOrEmpty() string {
	if e == nil {
		return ""
	}
	return e.Path
}

// Header is the result of a codec's header stage. Fields feed the geometry
// resolver; State is codec-private and handed back to ReadPayload.
type Header struct {
	Volume *core.Volume
	Fields geometry.Fields
	Slices *multifile.SliceMap
	State  any
}

// Codec is the read side every format implements.
//
// ReadPayload fills h.Volume's voxel buffer. When frames is non-nil and the
// layout is seekable the codec reads only those frames, sets the volume's
// frame count accordingly and returns applied=true; otherwise it reads every
// frame and the caller extracts the range.
type Codec interface {
	ReadHeader(env *Env) (*Header, error)
	ReadPayload(env *Env, h *Header, frames *FrameRange) (applied bool, err error)
}

// Writer is implemented by codecs that can write.
type Writer interface {
	Write(env *Env, v *core.Volume) error
}

// SidecarError reports a failed companion geometry file. The primary
// payload may already be on disk when it is returned.
type SidecarError struct {
	Path string
	Err  error
}

func (e *SidecarError) Error() string { return "sidecar " + e.Path + ": " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *SidecarError) Unwrap() error { return e.Err }

// Registry is an ordered set of descriptors. It is built once and read only
// afterwards.
type Registry struct {
	descs []*Descriptor
	names map[string]*Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{names: make(map[string]*Descriptor)}
}

// Register adds d. Ids and aliases must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("descriptor without id")
	}
	if d.Codec == nil {
		return fmt.Errorf("format %s has no codec", d.ID)
	}
	if _, ok := d.Codec.(Writer); ok != d.Capabilities.Has(CapWrite) {
		return fmt.Errorf("format %s: write capability does not match codec", d.ID)
	}
	for _, n := range d.Names() {
		if _, dup := r.names[strings.ToLower(n)]; dup {
			return fmt.Errorf("format name %q registered twice", n)
		}
	}
	dd := d
	r.descs = append(r.descs, &dd)
	for _, n := range dd.Names() {
		r.names[strings.ToLower(n)] = &dd
	}
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup finds a descriptor by id or alias, case-insensitively.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.names[strings.ToLower(name)]
	return d, ok
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	return lo.Map(r.descs, func(d *Descriptor, _ int) Descriptor { return *d })
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []FormatID {
	return lo.Map(r.descs, func(d *Descriptor, _ int) FormatID { return d.ID })
}

// ByExtension matches path against the extension tables, longest extension
// first. Compressed extensions are included.
func (r *Registry) ByExtension(path string) (*Descriptor, bool) {
	return r.matchExtension(path, func(d *Descriptor) []string {
		return append(append([]string{}, d.CompressedExtensions...), d.Extensions...)
	})
}

func (r *Registry) byCompressedExtension(path string) (*Descriptor, bool) {
	return r.matchExtension(path, func(d *Descriptor) []string { return d.CompressedExtensions })
}

func (r *Registry) matchExtension(path string, exts func(*Descriptor) []string) (*Descriptor, bool) {
	name := strings.ToLower(filepath.Base(path))
	var best *Descriptor
	bestLen := 0
	for _, d := range r.descs {
		for _, ext := range exts(d) {
			if len(ext) > bestLen && strings.HasSuffix(name, strings.ToLower(ext)) {
				best, bestLen = d, len(ext)
			}
		}
	}
	return best, best != nil
}
