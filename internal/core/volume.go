// Package core holds the format-independent volume model that every codec
// produces and consumes.
package core

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/utils"
)

// Acquisition carries scanner parameters through unvalidated.
// Times are in milliseconds, the flip angle in radians.
type Acquisition struct {
	TR        float64
	TE        float64
	TI        float64
	FlipAngle float64
}

// Volume is the unified in-memory image: dimensions, one voxel type, an
// optional voxel buffer, geometry, acquisition parameters and provenance.
//
// Voxels are stored frame-major: index = ((f*depth+z)*height+y)*width+x.
// Geometry changes go through setters, which drop the cached affines.
type Volume struct {
	width, height, depth, frames int
	vtype                        VoxelType

	uchars  []uint8
	shorts  []int16
	ints    []int32
	floats  []float32
	hasData bool

	frame geometry.Frame
	Acq   Acquisition

	provenance []string

	vox2ras *mat.Dense
	ras2vox *mat.Dense
}

// NewHeader creates a header-only volume. No voxel buffer is allocated.
func NewHeader(width, height, depth, frames int, t VoxelType) (*Volume, error) {
	if !t.Valid() {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "voxel type %d", int(t))
	}
	if _, err := utils.CalculateVoxelBytes([]int{width, height, depth, frames}, t.Size()); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("dimensions %dx%dx%dx%d", width, height, depth, frames), err)
	}
	return &Volume{
		width:  width,
		height: height,
		depth:  depth,
		frames: frames,
		vtype:  t,
		frame:  geometry.DefaultFrame(geometry.Vec3{1, 1, 1}),
	}, nil
}

// NewVolume creates a volume with a zeroed voxel buffer.
func NewVolume(width, height, depth, frames int, t VoxelType) (*Volume, error) {
	v, err := NewHeader(width, height, depth, frames, t)
	if err != nil {
		return nil, err
	}
	v.Allocate()
	return v, nil
}

// Allocate creates a zeroed voxel buffer, discarding any existing one.
func (v *Volume) Allocate() {
	n := v.NumVoxels()
	v.uchars, v.shorts, v.ints, v.floats = nil, nil, nil, nil
	switch v.vtype {
	case UChar:
		v.uchars = make([]uint8, n)
	case Short:
		v.shorts = make([]int16, n)
	case Int:
		v.ints = make([]int32, n)
	case Float:
		v.floats = make([]float32, n)
	}
	v.hasData = true
}

// HasData reports whether a voxel buffer is present.
func (v *Volume) HasData() bool { return v.hasData }

// Width returns the number of columns.
func (v *Volume) Width() int { return v.width }

// Height returns the number of rows.
func (v *Volume) Height() int { return v.height }

// Depth returns the number of slices.
func (v *Volume) Depth() int { return v.depth }

// Frames returns the number of frames.
func (v *Volume) Frames() int { return v.frames }

// Type returns the voxel type.
func (v *Volume) Type() VoxelType { return v.vtype }

// VoxelsPerFrame returns width*height*depth.
func (v *Volume) VoxelsPerFrame() int { return v.width * v.height * v.depth }

// NumVoxels returns width*height*depth*frames.
func (v *Volume) NumVoxels() int { return v.VoxelsPerFrame() * v.frames }

// BytesPerFrame returns the in-memory size of one frame.
func (v *Volume) BytesPerFrame() int { return v.VoxelsPerFrame() * v.vtype.Size() }

// Index returns the linear buffer index of (x, y, z, f).
func (v *Volume) Index(x, y, z, f int) int {
	return ((f*v.depth+z)*v.height+y)*v.width + x
}

// InBounds reports whether (x, y, z, f) addresses a voxel of v.
func (v *Volume) InBounds(x, y, z, f int) bool {
	return x >= 0 && x < v.width && y >= 0 && y < v.height &&
		z >= 0 && z < v.depth && f >= 0 && f < v.frames
}

// Voxel returns the value at (x, y, z, f) as float64.
func (v *Volume) Voxel(x, y, z, f int) float64 {
	return v.At(v.Index(x, y, z, f))
}

// SetVoxel stores val at (x, y, z, f), rounding and saturating for integer types.
func (v *Volume) SetVoxel(x, y, z, f int, val float64) {
	v.SetAt(v.Index(x, y, z, f), val)
}

// At returns the value at linear index i as float64.
func (v *Volume) At(i int) float64 {
	switch v.vtype {
	case UChar:
		return float64(v.uchars[i])
	case Short:
		return float64(v.shorts[i])
	case Int:
		return float64(v.ints[i])
	default:
		return float64(v.floats[i])
	}
}

// SetAt stores val at linear index i.
func (v *Volume) SetAt(i int, val float64) {
	val = clampTo(v.vtype, val)
	switch v.vtype {
	case UChar:
		v.uchars[i] = uint8(val)
	case Short:
		v.shorts[i] = int16(val)
	case Int:
		v.ints[i] = int32(val)
	default:
		v.floats[i] = float32(val)
	}
}

// UChars returns the buffer of a UChar volume, nil otherwise.
func (v *Volume) UChars() []uint8 { return v.uchars }

// Shorts returns the buffer of a Short volume, nil otherwise.
func (v *Volume) Shorts() []int16 { return v.shorts }

// Ints returns the buffer of an Int volume, nil otherwise.
func (v *Volume) Ints() []int32 { return v.ints }

// Floats returns the buffer of a Float volume, nil otherwise.
func (v *Volume) Floats() []float32 { return v.floats }

// Geometry returns the current frame.
func (v *Volume) Geometry() geometry.Frame { return v.frame }

// SetGeometry replaces the whole frame.
func (v *Volume) SetGeometry(f geometry.Frame) {
	v.frame = f
	v.invalidate()
}

// GeometryValid reports whether the orientation was read from a file or set
// explicitly rather than synthesized by the default fallback.
func (v *Volume) GeometryValid() bool { return v.frame.Valid }

// Spacing returns the voxel sizes in mm.
func (v *Volume) Spacing() geometry.Vec3 { return v.frame.Spacing }

// SetSpacing sets the voxel sizes in mm.
func (v *Volume) SetSpacing(x, y, z float64) {
	v.frame.Spacing = geometry.Vec3{x, y, z}
	v.invalidate()
}

// Thickness returns the slice thickness, an alias of the z voxel size.
func (v *Volume) Thickness() float64 { return v.frame.Spacing[2] }

// FOV returns the largest in-plane or through-plane extent in mm.
func (v *Volume) FOV() float64 {
	s := v.frame.Spacing
	return max(float64(v.width)*s[0], float64(v.height)*s[1], float64(v.depth)*s[2])
}

// SetDirections sets the three direction cosines and marks the geometry valid.
func (v *Volume) SetDirections(x, y, z geometry.Vec3) {
	v.frame.Axes = [3]geometry.Vec3{x, y, z}
	v.frame.Valid = true
	v.invalidate()
}

// Center returns the RAS position of the center voxel.
func (v *Volume) Center() geometry.Vec3 { return v.frame.Center }

// SetCenter sets the RAS position of the center voxel.
func (v *Volume) SetCenter(c geometry.Vec3) {
	v.frame.Center = c
	v.invalidate()
}

// VoxelToRAS returns a copy of the cached voxel-to-RAS affine, deriving it if needed.
func (v *Volume) VoxelToRAS() *mat.Dense {
	if v.vox2ras == nil {
		v.vox2ras = v.frame.VoxelToRAS(v.width, v.height, v.depth)
	}
	return mat.DenseCopyOf(v.vox2ras)
}

// RASToVoxel returns a copy of the cached RAS-to-voxel affine.
func (v *Volume) RASToVoxel() (*mat.Dense, error) {
	if v.ras2vox == nil {
		inv, err := v.frame.RASToVoxel(v.width, v.height, v.depth)
		if err != nil {
			return nil, err
		}
		v.ras2vox = inv
	}
	return mat.DenseCopyOf(v.ras2vox), nil
}

// SetVoxelToRAS decomposes m into spacing, cosines and center.
func (v *Volume) SetVoxelToRAS(m mat.Matrix) error {
	f, err := geometry.FromAffine(m, v.width, v.height, v.depth)
	if err != nil {
		return err
	}
	v.SetGeometry(f)
	return nil
}

func (v *Volume) invalidate() {
	v.vox2ras = nil
	v.ras2vox = nil
}

// AddCommand appends a command line to the provenance list.
func (v *Volume) AddCommand(cmd string) {
	v.provenance = append(v.provenance, cmd)
}

// Provenance returns a copy of the recorded command lines, oldest first.
func (v *Volume) Provenance() []string {
	return slices.Clone(v.provenance)
}

// WithCommand returns a shallow copy of v, sharing its voxel buffer, whose
// provenance ends with cmd. v is not modified.
func (v *Volume) WithCommand(cmd string) *Volume {
	c := *v
	c.provenance = append(slices.Clone(v.provenance), cmd)
	return &c
}

// CopyHeader returns a header-only volume with v's dimensions, type,
// geometry, acquisition parameters and provenance.
func (v *Volume) CopyHeader() *Volume {
	return &Volume{
		width:      v.width,
		height:     v.height,
		depth:      v.depth,
		frames:     v.frames,
		vtype:      v.vtype,
		frame:      v.frame,
		Acq:        v.Acq,
		provenance: slices.Clone(v.provenance),
	}
}

// Clone returns a deep copy including the voxel buffer.
func (v *Volume) Clone() *Volume {
	c := v.CopyHeader()
	c.uchars = slices.Clone(v.uchars)
	c.shorts = slices.Clone(v.shorts)
	c.ints = slices.Clone(v.ints)
	c.floats = slices.Clone(v.floats)
	c.hasData = v.hasData
	return c
}

// ExtractFrames returns a new volume holding frames start..end inclusive.
func (v *Volume) ExtractFrames(start, end int) (*Volume, error) {
	if start < 0 || start >= v.frames || end < start || end >= v.frames {
		return nil, utils.Errorf(utils.ErrFrameRange, "frames %d..%d of %d", start, end, v.frames)
	}
	out := v.CopyHeader()
	out.frames = end - start + 1
	if !v.hasData {
		return out, nil
	}
	lo, hi := start*v.VoxelsPerFrame(), (end+1)*v.VoxelsPerFrame()
	switch v.vtype {
	case UChar:
		out.uchars = slices.Clone(v.uchars[lo:hi])
	case Short:
		out.shorts = slices.Clone(v.shorts[lo:hi])
	case Int:
		out.ints = slices.Clone(v.ints[lo:hi])
	case Float:
		out.floats = slices.Clone(v.floats[lo:hi])
	}
	out.hasData = true
	return out, nil
}

// SetFrameCount changes the frame count of a header-only volume. Codecs use it
// when a frame subrange is read directly from disk.
func (v *Volume) SetFrameCount(n int) error {
	if v.hasData {
		return fmt.Errorf("cannot change frame count of a volume with data")
	}
	if n <= 0 {
		return utils.Errorf(utils.ErrFrameRange, "frame count %d", n)
	}
	v.frames = n
	return nil
}

// ConvertTo returns a copy of v with voxel type t. Values are rounded and
// saturated when narrowing.
func (v *Volume) ConvertTo(t VoxelType) (*Volume, error) {
	if !t.Valid() {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "voxel type %d", int(t))
	}
	if t == v.vtype {
		return v.Clone(), nil
	}
	out := v.CopyHeader()
	out.vtype = t
	if !v.hasData {
		return out, nil
	}
	out.Allocate()
	for i, n := 0, v.NumVoxels(); i < n; i++ {
		out.SetAt(i, v.At(i))
	}
	return out, nil
}

// String implements fmt.Stringer.
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%dx%d %s %s", v.width, v.height, v.depth, v.frames, v.vtype, v.frame)
}
