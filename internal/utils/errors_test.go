package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolError_Error(t *testing.T) {
	tests := []struct {
		name     string
		context  string
		cause    error
		expected string
	}{
		{
			name:     "simple error",
			context:  "reading nifti header",
			cause:    errors.New("invalid magic"),
			expected: "reading nifti header: invalid magic",
		},
		{
			name:     "taxonomy error",
			context:  "slice COR-017",
			cause:    ErrNoSuchFile,
			expected: "slice COR-017: no such file",
		},
		{
			name:     "empty context",
			context:  "",
			cause:    errors.New("some error"),
			expected: ": some error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &VolError{
				Context: tt.context,
				Cause:   tt.cause,
			}
			require.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestWrapError(t *testing.T) {
	require.Nil(t, WrapError("some operation", nil))

	cause := errors.New("IO error")
	err := WrapError("reading data", cause)
	require.NotNil(t, err)

	var verr *VolError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "reading data", verr.Context)
	require.Equal(t, cause, verr.Cause)
}

func TestWrapError_ChainedWrapping(t *testing.T) {
	level1 := WrapError("level 1", ErrTruncatedData)
	level2 := WrapError("level 2", level1)
	level3 := WrapError("level 3", level2)

	require.True(t, errors.Is(level3, ErrTruncatedData))
	require.Contains(t, level3.Error(), "level 3")
	require.Contains(t, level3.Error(), "level 1")

	var verr *VolError
	require.True(t, errors.As(errors.Unwrap(level3), &verr))
	require.Equal(t, "level 2", verr.Context)
}

func TestErrorf(t *testing.T) {
	err := Errorf(ErrInconsistentSliceCount, "found %d slices, header declares %d", 9, 10)
	require.ErrorIs(t, err, ErrInconsistentSliceCount)
	require.Equal(t, "found 9 slices, header declares 10: inconsistent slice count", err.Error())
}

func TestTaxonomyDistinct(t *testing.T) {
	all := []error{
		ErrUnknownFormat, ErrNoSuchFile, ErrTruncatedData, ErrBadMagic,
		ErrInconsistentSliceCount, ErrUnsupportedVoxelType, ErrDegenerateGeometry,
		ErrExternalToolUnavailable, ErrNoMemory, ErrFrameRange,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				require.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}
