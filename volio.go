// Package volio reads and writes medical image volumes in several on-disk
// formats behind one interface.
//
// A path names the volume and may carry two selectors:
//
//	brain.mgz            format from extension or content
//	scan.img@analyze     format forced by name or alias
//	bold.nii#3:7         frames 3 through 7 inclusive
//
// Read resolves the format, decodes the header, settles the voxel-to-RAS
// geometry, reads the payload and sanitizes non-finite voxels. Write is the
// mirror image and fails before touching disk when the geometry cannot be
// encoded.
package volio

import (
	"sync"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/formats/analyze"
	"github.com/scigolib/volio/internal/formats/cor"
	"github.com/scigolib/volio/internal/formats/genesis"
	"github.com/scigolib/volio/internal/formats/mgh"
	"github.com/scigolib/volio/internal/formats/nifti"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
)

// Volume is the in-memory image every format decodes into.
type Volume = core.Volume

// VoxelType is the element type of a volume.
type VoxelType = core.VoxelType

// Voxel types.
const (
	UChar = core.UChar
	Short = core.Short
	Int   = core.Int
	Float = core.Float
)

// Acquisition holds scanner parameters (ms, radians).
type Acquisition = core.Acquisition

// Frame is the spatial geometry of a volume.
type Frame = geometry.Frame

// Vec3 is a 3-vector in RAS or voxel space.
type Vec3 = geometry.Vec3

// FormatID names a format.
type FormatID = registry.FormatID

// FormatDescriptor describes a registered format.
type FormatDescriptor = registry.Descriptor

// FrameRange is an inclusive frame selection.
type FrameRange = registry.FrameRange

// Format identifiers.
const (
	COR     = registry.COR
	NIfTI1  = registry.NIfTI1
	MGH     = registry.MGH
	MGZ     = registry.MGZ
	Analyze = registry.Analyze
	Genesis = registry.Genesis
)

// Errors returned by this package. Match them with errors.Is.
var (
	ErrUnknownFormat           = utils.ErrUnknownFormat
	ErrNoSuchFile              = utils.ErrNoSuchFile
	ErrTruncatedData           = utils.ErrTruncatedData
	ErrBadMagic                = utils.ErrBadMagic
	ErrInconsistentSliceCount  = utils.ErrInconsistentSliceCount
	ErrUnsupportedVoxelType    = utils.ErrUnsupportedVoxelType
	ErrDegenerateGeometry      = utils.ErrDegenerateGeometry
	ErrExternalToolUnavailable = utils.ErrExternalToolUnavailable
	ErrNoMemory                = utils.ErrNoMemory
	ErrFrameRange              = utils.ErrFrameRange
	ErrUnsupportedDimensions   = utils.ErrUnsupportedDimensions
)

// formats is built on first use and never modified. Content probes run in
// this order, so the formats with the most specific magic come first.
var formats = sync.OnceValue(func() *registry.Registry {
	return registry.New().MustRegister(
		genesis.Descriptor(),
		nifti.Descriptor(),
		mgh.Descriptor(),
		mgh.CompressedDescriptor(),
		analyze.Descriptor(),
		cor.Descriptor(),
	)
})

// Formats returns the registered formats in probe order.
func Formats() []FormatDescriptor {
	return formats().Descriptors()
}

// LookupFormat finds a format by id or alias.
func LookupFormat(name string) (FormatDescriptor, bool) {
	d, ok := formats().Lookup(name)
	if !ok {
		return FormatDescriptor{}, false
	}
	return *d, true
}

// AppendType returns path with an "@TYPE" selector forcing format id.
func AppendType(path string, id FormatID) string {
	return registry.AppendType(path, id)
}

// Identify classifies path without decoding it. Selectors are honored, so
// "x.dat@mgh" identifies as MGH.
func Identify(path string) (FormatID, error) {
	reg := formats()
	t, err := reg.ParsePath(path)
	if err != nil {
		return "", &StageError{Stage: StageResolve, Path: path, Err: err}
	}
	d, err := reg.Classify(t.Path, t.Type)
	if err != nil {
		return "", &StageError{Stage: StageResolve, Path: t.Path, Err: err}
	}
	return d.ID, nil
}

// NewVolume allocates a zeroed volume with the default geometry.
func NewVolume(width, height, depth, frames int, t VoxelType) (*Volume, error) {
	return core.NewVolume(width, height, depth, frames, t)
}

// NewHeader creates a volume without a voxel buffer.
func NewHeader(width, height, depth, frames int, t VoxelType) (*Volume, error) {
	return core.NewHeader(width, height, depth, frames, t)
}
