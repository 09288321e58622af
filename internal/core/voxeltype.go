package core

import (
	"fmt"
	"math"
)

// VoxelType is one of the four element types a volume may hold in memory.
type VoxelType int

// In-memory voxel types.
const (
	UChar VoxelType = iota
	Short
	Int
	Float
)

// Size returns the element size in bytes.
func (t VoxelType) Size() int {
	switch t {
	case UChar:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is one of the four supported types.
func (t VoxelType) Valid() bool {
	return t >= UChar && t <= Float
}

// String implements fmt.Stringer.
func (t VoxelType) String() string {
	switch t {
	case UChar:
		return "uchar"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("VoxelType(%d)", int(t))
	}
}

// StorageType is an on-disk element encoding. Several storage types map onto
// the same in-memory VoxelType.
type StorageType int

// On-disk element encodings.
const (
	StoreUint8 StorageType = iota
	StoreInt8
	StoreInt16
	StoreUint16
	StoreInt32
	StoreFloat32
	StoreFloat64
)

// Size returns the encoded element size in bytes.
func (s StorageType) Size() int {
	switch s {
	case StoreUint8, StoreInt8:
		return 1
	case StoreInt16, StoreUint16:
		return 2
	case StoreInt32, StoreFloat32:
		return 4
	case StoreFloat64:
		return 8
	default:
		return 0
	}
}

// VoxelType returns the in-memory type this encoding decodes into.
// Narrower signed/unsigned variants widen; float64 narrows to float32.
func (s StorageType) VoxelType() VoxelType {
	switch s {
	case StoreUint8:
		return UChar
	case StoreInt8, StoreInt16:
		return Short
	case StoreUint16, StoreInt32:
		return Int
	default:
		return Float
	}
}

// String implements fmt.Stringer.
func (s StorageType) String() string {
	switch s {
	case StoreUint8:
		return "uint8"
	case StoreInt8:
		return "int8"
	case StoreInt16:
		return "int16"
	case StoreUint16:
		return "uint16"
	case StoreInt32:
		return "int32"
	case StoreFloat32:
		return "float32"
	case StoreFloat64:
		return "float64"
	default:
		return fmt.Sprintf("StorageType(%d)", int(s))
	}
}

// StorageFor returns the native encoding of an in-memory type.
func StorageFor(t VoxelType) StorageType {
	switch t {
	case UChar:
		return StoreUint8
	case Short:
		return StoreInt16
	case Int:
		return StoreInt32
	default:
		return StoreFloat32
	}
}

// Scale is a slope/intercept pair for scaled storage.
type Scale struct {
	Slope, Intercept float64
}

// Identity reports whether applying s changes nothing. A zero or non-finite
// slope is treated as "no scaling" as the formats do.
func (s Scale) Identity() bool {
	if s.Slope == 0 || math.IsNaN(s.Slope) || math.IsInf(s.Slope, 0) {
		return true
	}
	return s.Slope == 1 && s.offset() == 0
}

// offset is the intercept, with a non-finite value read as zero.
func (s Scale) offset() float64 {
	if math.IsNaN(s.Intercept) || math.IsInf(s.Intercept, 0) {
		return 0
	}
	return s.Intercept
}

// clampTo converts a float64 to the given voxel type, rounding integers and
// saturating at the type bounds.
func clampTo(t VoxelType, v float64) float64 {
	if t == Float {
		return float64(float32(v))
	}
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	lo, hi := 0.0, 0.0
	switch t {
	case UChar:
		lo, hi = 0, math.MaxUint8
	case Short:
		lo, hi = math.MinInt16, math.MaxInt16
	case Int:
		lo, hi = math.MinInt32, math.MaxInt32
	}
	return math.Max(lo, math.Min(hi, v))
}
