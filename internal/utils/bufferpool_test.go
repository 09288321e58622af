package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBuffer(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "nifti header", size: 348},
		{name: "exact pool size", size: HeaderBufferSize},
		{name: "larger than pool capacity", size: 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetBuffer(tt.size)
			require.Len(t, buf, tt.size)
			ReleaseBuffer(buf)
		})
	}
}

func TestGetBuffer_Zeroed(t *testing.T) {
	buf := GetBuffer(64)
	for i := range buf {
		buf[i] = 0xAA
	}
	ReleaseBuffer(buf)

	again := GetBuffer(64)
	for _, b := range again {
		require.Zero(t, b)
	}
	ReleaseBuffer(again)
}
