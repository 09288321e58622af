package utils

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every codec. Callers match with errors.Is.
var (
	ErrUnknownFormat           = errors.New("unknown volume format")
	ErrNoSuchFile              = errors.New("no such file")
	ErrTruncatedData           = errors.New("truncated data")
	ErrBadMagic                = errors.New("bad magic")
	ErrInconsistentSliceCount  = errors.New("inconsistent slice count")
	ErrUnsupportedVoxelType    = errors.New("unsupported voxel type")
	ErrDegenerateGeometry      = errors.New("degenerate geometry")
	ErrExternalToolUnavailable = errors.New("external tool unavailable")
	ErrNoMemory                = errors.New("volume too large to allocate")
	ErrFrameRange              = errors.New("frame range out of bounds")
	ErrUnsupportedDimensions   = errors.New("unsupported volume dimensions")
)

// VolError represents a structured error with the operation that produced it.
type VolError struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *VolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// WrapError creates a contextual error.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &VolError{
		Context: context,
		Cause:   cause,
	}
}

// Errorf wraps one of the taxonomy errors with a formatted context.
func Errorf(kind error, format string, args ...any) error {
	return &VolError{
		Context: fmt.Sprintf(format, args...),
		Cause:   kind,
	}
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *VolError) Unwrap() error {
	return e.Cause
}
