// Package utils provides byte-order, error and sizing helpers shared by the volume codecs.
package utils

import "sync"

// HeaderBufferSize covers the largest fixed header (NIfTI/Analyze 348 bytes + extension flag).
const HeaderBufferSize = 512

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, HeaderBufferSize)
	},
}

// GetBuffer returns a zeroed byte slice of the given size from the pool.
func GetBuffer(size int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	buf = buf[:size]
	clear(buf)
	return buf
}

// ReleaseBuffer returns a buffer to the pool.
func ReleaseBuffer(buf []byte) {
	//nolint:staticcheck // SA6002: slice descriptor copy is acceptable for sync.Pool
	bufferPool.Put(buf[:0])
}
