package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/utils"
)

// Fields collects the raw orientation fields a header supplied. Codecs set
// whichever members their format carries and leave the rest zero.
type Fields struct {
	Width, Height, Depth int

	// Spacing holds voxel sizes as stored; used when no affine supplies them.
	Spacing Vec3

	// Affine is an explicit voxel-to-RAS matrix (0-based voxel indices).
	Affine mat.Matrix

	// Quatern is a rotation-quaternion + offset pair scaled by Spacing.
	Quatern *Quatern

	// Axes is an explicit direction-cosine matrix, positioned by Center.
	Axes   *[3]Vec3
	Center Vec3

	// Orientation is a coarse plane tag with an optional flip of the row axis.
	Orientation SliceOrientation
	Flipped     bool
}

// Rule identifies which resolution rule produced a frame.
type Rule int

// Resolution rules, in the order they are tried.
const (
	RuleAffine Rule = iota + 1
	RuleQuatern
	RuleCosines
	RuleOrientationTag
	RuleDefault
)

// String implements fmt.Stringer.
func (r Rule) String() string {
	switch r {
	case RuleAffine:
		return "affine"
	case RuleQuatern:
		return "quaternion"
	case RuleCosines:
		return "direction cosines"
	case RuleOrientationTag:
		return "orientation tag"
	case RuleDefault:
		return "default"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// Result is the outcome of Finalize. Warning is non-empty when a stored
// orientation was unusable or the default orientation was substituted; it is
// never an error.
type Result struct {
	Frame   Frame
	Rule    Rule
	Warning string
}

// Finalize resolves a frame from raw header fields:
//  1. an explicit affine, quaternion or cosine matrix is decomposed and marked valid;
//  2. otherwise a coarse orientation tag selects a canonical cosine matrix, marked valid;
//  3. otherwise the default orientation is used with Valid=false and a warning.
//
// Sources are tried in that order; a degenerate one falls through to the next.
func Finalize(f Fields) Result {
	var problem error
	res, ok := finalizeExplicit(f, &problem)
	if !ok {
		if axes, tagged := TagCosines(f.Orientation, f.Flipped); tagged {
			res = Result{
				Frame: Frame{Spacing: sanitizeSpacing(f.Spacing), Axes: axes, Center: f.Center, Valid: true},
				Rule:  RuleOrientationTag,
			}
			ok = true
		}
	}
	if ok {
		if problem != nil {
			res.Warning = fmt.Sprintf("unusable orientation (%v), using %s", problem, res.Rule)
		}
		return res
	}

	warning := "no orientation information, using default orientation"
	if problem != nil {
		warning = fmt.Sprintf("unusable orientation (%v), using default orientation", problem)
	}
	return Result{
		Frame:   DefaultFrame(f.Spacing),
		Rule:    RuleDefault,
		Warning: warning,
	}
}

// finalizeExplicit tries the affine, the quaternion and the cosines in turn.
// The first failure is kept in problem.
func finalizeExplicit(f Fields, problem *error) (Result, bool) {
	keep := func(err error) {
		if *problem == nil {
			*problem = err
		}
	}
	if f.Affine != nil {
		fr, err := FromAffine(f.Affine, f.Width, f.Height, f.Depth)
		if err == nil {
			return Result{Frame: fr, Rule: RuleAffine}, true
		}
		keep(err)
	}
	if f.Quatern != nil {
		m := QuaternToAffine(*f.Quatern, f.Spacing[0], f.Spacing[1], f.Spacing[2])
		fr, err := FromAffine(m, f.Width, f.Height, f.Depth)
		if err == nil {
			return Result{Frame: fr, Rule: RuleQuatern}, true
		}
		keep(err)
	}
	if f.Axes != nil {
		fr := Frame{Spacing: sanitizeSpacing(f.Spacing), Center: f.Center, Valid: true}
		for i, a := range f.Axes {
			fr.Axes[i] = a.Normalized()
		}
		if !fr.Degenerate() {
			return Result{Frame: fr, Rule: RuleCosines}, true
		}
		keep(utils.WrapError("direction cosines", utils.ErrDegenerateGeometry))
	}
	return Result{}, false
}

// CheckWritable rejects frames whose affine cannot be inverted.
func CheckWritable(fr Frame) error {
	if fr.Degenerate() {
		return utils.Errorf(utils.ErrDegenerateGeometry, "direction cosines have determinant %g", fr.Determinant())
	}
	for i, s := range fr.Spacing {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return utils.Errorf(utils.ErrDegenerateGeometry, "voxel size %d is %g", i, s)
		}
	}
	return nil
}

func sanitizeSpacing(s Vec3) Vec3 {
	for i := range s {
		s[i] = math.Abs(s[i])
		if s[i] == 0 || math.IsNaN(s[i]) || math.IsInf(s[i], 0) {
			s[i] = 1
		}
	}
	return s
}
