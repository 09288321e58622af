// Package geometry derives voxel spacing, direction cosines and the world
// center of a volume from whatever subset of orientation fields a format
// supplies, and converts between that frame and 4x4 voxel/RAS affines.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/utils"
)

// Vec3 is a point or direction in RAS world coordinates.
type Vec3 [3]float64

// Norm returns the Euclidean length.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Scale returns v*s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Normalized returns v/|v|, or the zero vector when |v| is zero.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// Frame is the finalized geometry of a volume.
//
// Axes holds one direction cosine per voxel axis (column, row, slice). The
// cosines are unit length but need not be orthogonal. Valid is false when
// the frame was synthesized by the default-orientation fallback.
type Frame struct {
	Spacing Vec3
	Axes    [3]Vec3
	Center  Vec3
	Valid   bool
}

// Default direction cosines used when a file carries no usable orientation:
// x toward left, y toward inferior, z toward anterior (coronal "LIA").
var (
	DefaultX = Vec3{-1, 0, 0}
	DefaultY = Vec3{0, 0, -1}
	DefaultZ = Vec3{0, 1, 0}
)

// DefaultFrame returns the fallback frame for the given spacing.
// Zero or negative spacings become 1mm.
func DefaultFrame(spacing Vec3) Frame {
	for i := range spacing {
		if spacing[i] <= 0 || math.IsNaN(spacing[i]) || math.IsInf(spacing[i], 0) {
			spacing[i] = 1
		}
	}
	return Frame{
		Spacing: spacing,
		Axes:    [3]Vec3{DefaultX, DefaultY, DefaultZ},
		Valid:   false,
	}
}

// Cosines returns the 3x3 direction cosine matrix with one axis per column.
func (f Frame) Cosines() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			m.Set(r, c, f.Axes[c][r])
		}
	}
	return m
}

// Determinant returns det of the direction cosine matrix.
func (f Frame) Determinant() float64 {
	return mat.Det(f.Cosines())
}

// Degenerate reports whether the cosines cannot describe a non-degenerate frame.
func (f Frame) Degenerate() bool {
	for _, a := range f.Axes {
		if a.Norm() < 1e-12 {
			return true
		}
	}
	return math.Abs(f.Determinant()) < 1e-12
}

// VoxelToRAS builds the 4x4 affine mapping 0-based voxel indices to RAS mm.
// The center voxel (dims/2) maps to Center.
func (f Frame) VoxelToRAS(width, height, depth int) *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	dims := Vec3{float64(width), float64(height), float64(depth)}
	origin := f.Center
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			v := f.Axes[c][r] * f.Spacing[c]
			m.Set(r, c, v)
			origin[r] -= v * dims[c] / 2
		}
	}
	for r := 0; r < 3; r++ {
		m.Set(r, 3, origin[r])
	}
	m.Set(3, 3, 1)
	return m
}

// RASToVoxel inverts VoxelToRAS. A singular affine fails with ErrDegenerateGeometry.
func (f Frame) RASToVoxel(width, height, depth int) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(f.VoxelToRAS(width, height, depth)); err != nil {
		return nil, utils.WrapError("invert vox2ras", utils.ErrDegenerateGeometry)
	}
	return &inv, nil
}

// FromAffine decomposes a voxel-to-RAS affine into spacing (column norms),
// unit direction cosines and the RAS position of the center voxel.
func FromAffine(m mat.Matrix, width, height, depth int) (Frame, error) {
	var f Frame
	for c := 0; c < 3; c++ {
		col := Vec3{m.At(0, c), m.At(1, c), m.At(2, c)}
		n := col.Norm()
		if n < 1e-12 || math.IsNaN(n) || math.IsInf(n, 0) {
			return Frame{}, utils.Errorf(utils.ErrDegenerateGeometry, "affine column %d has zero length", c)
		}
		f.Spacing[c] = n
		f.Axes[c] = col.Scale(1 / n)
	}
	half := Vec3{float64(width) / 2, float64(height) / 2, float64(depth) / 2}
	for r := 0; r < 3; r++ {
		f.Center[r] = m.At(r, 3) + m.At(r, 0)*half[0] + m.At(r, 1)*half[1] + m.At(r, 2)*half[2]
	}
	f.Valid = true
	if f.Degenerate() {
		return Frame{}, utils.WrapError("affine", utils.ErrDegenerateGeometry)
	}
	return f, nil
}

// OrientationString names the dominant RAS direction of each voxel axis, e.g. "LIA".
func (f Frame) OrientationString() string {
	var sb strings.Builder
	for _, a := range f.Axes {
		sb.WriteByte(axisLetter(a))
	}
	return sb.String()
}

func axisLetter(a Vec3) byte {
	pos := [3]byte{'R', 'A', 'S'}
	neg := [3]byte{'L', 'P', 'I'}
	best := 0
	for i := 1; i < 3; i++ {
		if math.Abs(a[i]) > math.Abs(a[best]) {
			best = i
		}
	}
	if a[best] < 0 {
		return neg[best]
	}
	return pos[best]
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("spacing=%.4g,%.4g,%.4g orient=%s center=%.4g,%.4g,%.4g valid=%t",
		f.Spacing[0], f.Spacing[1], f.Spacing[2], f.OrientationString(),
		f.Center[0], f.Center[1], f.Center[2], f.Valid)
}
