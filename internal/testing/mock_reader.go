// Package testing provides fixtures shared by codec tests.
package testing

import (
	"errors"
	"io"
)

// MockReaderAt serves an in-memory file and records the offset of every
// ReadAt call. Reads that run past the data behave like a truncated file.
type MockReaderAt struct {
	data    []byte
	Offsets []int64
}

// NewMockReaderAt creates a new mock reader with the given data.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{data: data}
}

// Truncated returns a reader over the first n bytes of data.
func Truncated(data []byte, n int) *MockReaderAt {
	return NewMockReaderAt(data[:min(n, len(data))])
}

// ReadAt implements io.ReaderAt.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	m.Offsets = append(m.Offsets, off)
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n = copy(p, m.data[off:])
	if n < len(p) {
		err = io.ErrUnexpectedEOF
	}
	return
}
