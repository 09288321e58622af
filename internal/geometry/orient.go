package geometry

// SliceOrientation is a coarse acquisition-plane tag as stored by formats
// that carry no direction cosines.
type SliceOrientation int

// Coarse orientation tags.
const (
	OrientUnknown SliceOrientation = iota
	OrientAxial
	OrientCoronal
	OrientSagittal
)

// String implements fmt.Stringer.
func (o SliceOrientation) String() string {
	switch o {
	case OrientAxial:
		return "axial"
	case OrientCoronal:
		return "coronal"
	case OrientSagittal:
		return "sagittal"
	default:
		return "unknown"
	}
}

// canonical maps each plane to its unflipped cosines (x, y, z axes).
var canonical = map[SliceOrientation][3]Vec3{
	OrientAxial:    {{-1, 0, 0}, {0, 1, 0}, {0, 0, 1}},  // LAS
	OrientCoronal:  {{-1, 0, 0}, {0, 0, 1}, {0, 1, 0}},  // LSA
	OrientSagittal: {{0, 1, 0}, {0, 0, 1}, {-1, 0, 0}}, // ASL
}

// TagCosines returns the canonical cosines for a plane. The flip bit
// reverses the row (y) axis. ok is false for OrientUnknown.
func TagCosines(o SliceOrientation, flipped bool) (axes [3]Vec3, ok bool) {
	axes, ok = canonical[o]
	if !ok {
		return axes, false
	}
	if flipped {
		axes[1] = axes[1].Scale(-1)
	}
	return axes, true
}
