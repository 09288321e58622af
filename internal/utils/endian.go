package utils

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"reflect"
)

// Scalar is the set of fixed-width element types the codecs move through byte buffers.
type Scalar interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

// Swap16 reverses the byte order of a 16-bit value.
func Swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

// Swap32 reverses the byte order of a 32-bit value.
func Swap32(v uint32) uint32 {
	return v<<24 | (v<<8)&0x00ff0000 | (v>>8)&0x0000ff00 | v>>24
}

// Swap64 reverses the byte order of a 64-bit value.
func Swap64(v uint64) uint64 {
	return uint64(Swap32(uint32(v)))<<32 | uint64(Swap32(uint32(v>>32)))
}

// SwapBuffer reverses the byte order of every width-byte element of buf in place.
// Width 1 is a no-op; a trailing partial element is an error.
func SwapBuffer(buf []byte, width int) error {
	switch width {
	case 1:
		return nil
	case 2, 4, 8:
	default:
		return WrapError("swap buffer", ErrUnsupportedVoxelType)
	}
	if len(buf)%width != 0 {
		return WrapError("swap buffer", ErrTruncatedData)
	}
	for i := 0; i < len(buf); i += width {
		for lo, hi := i, i+width-1; lo < hi; lo, hi = lo+1, hi-1 {
			buf[lo], buf[hi] = buf[hi], buf[lo]
		}
	}
	return nil
}

// ReadScalar reads one element of type T from r in the given byte order.
// A short read always fails with ErrTruncatedData.
func ReadScalar[T Scalar](r io.Reader, order binary.ByteOrder) (T, error) {
	var v T
	if err := binary.Read(r, order, &v); err != nil {
		var zero T
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return zero, WrapError("scalar read", ErrTruncatedData)
		}
		return zero, err
	}
	return v, nil
}

// WriteScalar writes one element of type T to w in the given byte order.
func WriteScalar[T Scalar](w io.Writer, v T, order binary.ByteOrder) error {
	return binary.Write(w, order, v)
}

// DecodeScalar decodes one element of type T from the start of b.
// The caller guarantees len(b) >= the element size. Named types decode by
// their underlying kind.
func DecodeScalar[T Scalar](b []byte, order binary.ByteOrder) T {
	var zero T
	switch reflect.TypeOf(zero).Kind() {
	case reflect.Uint8:
		return T(b[0])
	case reflect.Int8:
		return T(int8(b[0]))
	case reflect.Uint16:
		return T(order.Uint16(b))
	case reflect.Int16:
		return T(int16(order.Uint16(b)))
	case reflect.Uint32:
		return T(order.Uint32(b))
	case reflect.Int32:
		return T(int32(order.Uint32(b)))
	case reflect.Uint64:
		return T(order.Uint64(b))
	case reflect.Int64:
		return T(int64(order.Uint64(b)))
	case reflect.Float32:
		return T(math.Float32frombits(order.Uint32(b)))
	default: // reflect.Float64, the last kind Scalar admits
		return T(math.Float64frombits(order.Uint64(b)))
	}
}

// Float32At decodes a float32 header field at off.
func Float32At(b []byte, off int, order binary.ByteOrder) float32 {
	return math.Float32frombits(order.Uint32(b[off:]))
}

// PutFloat32At encodes a float32 header field at off.
func PutFloat32At(b []byte, off int, v float32, order binary.ByteOrder) {
	order.PutUint32(b[off:], math.Float32bits(v))
}

// Int16At decodes an int16 header field at off.
func Int16At(b []byte, off int, order binary.ByteOrder) int16 {
	return int16(order.Uint16(b[off:]))
}

// Int32At decodes an int32 header field at off.
func Int32At(b []byte, off int, order binary.ByteOrder) int32 {
	return int32(order.Uint32(b[off:]))
}
