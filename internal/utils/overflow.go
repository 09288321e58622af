package utils

import (
	"fmt"
	"math"
)

// MaxVolumeBytes limits a single decoded voxel buffer to 8GB.
const MaxVolumeBytes = 8 * 1024 * 1024 * 1024

// MaxHeaderBytes limits header and sidecar reads to 16MB.
const MaxHeaderBytes = 16 * 1024 * 1024

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
// Returns an error if overflow would occur.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}

	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}

	return nil
}

// SafeMultiply multiplies two uint64 values and returns the result if no overflow occurs.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// CalculateVoxelBytes returns width*height*depth*frames*elementSize with overflow checking.
// Every dimension must be positive. Sizes above MaxVolumeBytes fail with ErrNoMemory.
func CalculateVoxelBytes(dims []int, elementSize int) (uint64, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("no dimensions provided")
	}
	if elementSize <= 0 {
		return 0, fmt.Errorf("element size must be positive, got %d", elementSize)
	}

	size := uint64(elementSize)
	for i, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d must be positive, got %d", i, d)
		}
		next, err := SafeMultiply(size, uint64(d))
		if err != nil {
			return 0, WrapError(fmt.Sprintf("volume size at dimension %d", i), ErrNoMemory)
		}
		size = next
	}

	if size > MaxVolumeBytes {
		return 0, Errorf(ErrNoMemory, "volume of %d bytes exceeds limit %d", size, uint64(MaxVolumeBytes))
	}
	return size, nil
}

// ValidateBufferSize validates that a buffer size is within reasonable limits.
// maxSize parameter allows different limits for different use cases.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}

	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}

	return nil
}
