package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/utils"
)

// Quatern is the rotation-quaternion + offset geometry encoding. Only the
// b, c, d components are stored; a is recovered from unit length. QFac is
// +1 or -1 and multiplies the third axis to encode left-handed frames.
type Quatern struct {
	B, C, D float64
	Offset  Vec3
	QFac    float64
}

// quaternEpsilon bounds 1-(b²+c²+d²) below which a is treated as zero and
// (b, c, d) renormalized instead of taking sqrt of a tiny or negative value.
const quaternEpsilon = 1e-7

// QuaternToAffine builds the voxel-to-RAS affine for q and voxel sizes dx, dy, dz.
// Non-positive sizes are replaced with 1.
func QuaternToAffine(q Quatern, dx, dy, dz float64) *mat.Dense {
	b, c, d := q.B, q.C, q.D
	a := 1 - (b*b + c*c + d*d)
	if a < quaternEpsilon {
		n := math.Sqrt(b*b + c*c + d*d)
		if n < quaternEpsilon {
			// Nothing to normalize: identity rotation.
			b, c, d, a = 0, 0, 0, 1
		} else {
			b, c, d = b/n, c/n, d/n
			a = 0
		}
	} else {
		a = math.Sqrt(a)
	}

	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	if dz <= 0 {
		dz = 1
	}
	if q.QFac < 0 {
		dz = -dz
	}

	m := mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, q.Offset[0],
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, q.Offset[1],
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, q.Offset[2],
		0, 0, 0, 1,
	})
	return m
}

// AffineToQuatern encodes the rotation part of a voxel-to-RAS affine as a
// quaternion. Columns are normalized, a negative determinant flips the third
// column and sets QFac=-1, and the result is projected onto the nearest
// rotation so that a right-handed orthonormal matrix is what gets stored.
// The second return value holds the column norms (voxel sizes).
func AffineToQuatern(m mat.Matrix) (Quatern, Vec3, error) {
	var spacing Vec3
	r := mat.NewDense(3, 3, nil)
	for c := 0; c < 3; c++ {
		col := Vec3{m.At(0, c), m.At(1, c), m.At(2, c)}
		n := col.Norm()
		if n < 1e-12 {
			return Quatern{}, Vec3{}, utils.Errorf(utils.ErrDegenerateGeometry, "affine column %d has zero length", c)
		}
		spacing[c] = n
		for row := 0; row < 3; row++ {
			r.Set(row, c, col[row]/n)
		}
	}

	q := Quatern{
		Offset: Vec3{m.At(0, 3), m.At(1, 3), m.At(2, 3)},
		QFac:   1,
	}

	det := mat.Det(r)
	if math.Abs(det) < 1e-12 {
		return Quatern{}, Vec3{}, utils.WrapError("affine rotation", utils.ErrDegenerateGeometry)
	}
	if det < 0 {
		q.QFac = -1
		for row := 0; row < 3; row++ {
			r.Set(row, 2, -r.At(row, 2))
		}
	}

	rot, err := nearestRotation(r)
	if err != nil {
		return Quatern{}, Vec3{}, err
	}

	r11, r12, r13 := rot.At(0, 0), rot.At(0, 1), rot.At(0, 2)
	r21, r22, r23 := rot.At(1, 0), rot.At(1, 1), rot.At(1, 2)
	r31, r32, r33 := rot.At(2, 0), rot.At(2, 1), rot.At(2, 2)

	var a, b, c, d float64
	a = r11 + r22 + r33 + 1
	if a > 0.5 {
		a = 0.5 * math.Sqrt(a)
		b = 0.25 * (r32 - r23) / a
		c = 0.25 * (r13 - r31) / a
		d = 0.25 * (r21 - r12) / a
	} else {
		xd := 1 + r11 - (r22 + r33)
		yd := 1 + r22 - (r11 + r33)
		zd := 1 + r33 - (r11 + r22)
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r12 + r21) / b
			d = 0.25 * (r13 + r31) / b
			a = 0.25 * (r32 - r23) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r12 + r21) / c
			d = 0.25 * (r23 + r32) / c
			a = 0.25 * (r13 - r31) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r13 + r31) / d
			c = 0.25 * (r23 + r32) / d
			a = 0.25 * (r21 - r12) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}

	q.B, q.C, q.D = b, c, d
	return q, spacing, nil
}

// nearestRotation returns U*Vᵀ from the SVD of r, the orthonormal matrix
// closest to r in the Frobenius norm.
func nearestRotation(r *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(r, mat.SVDFull); !ok {
		return nil, utils.WrapError("polar decomposition", utils.ErrDegenerateGeometry)
	}
	var u, v, out mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out.Mul(&u, v.T())
	return &out, nil
}
