package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/scigolib/volio/internal/utils"
)

// DecodeRaw decodes raw elements of storage type st into the voxel buffer
// starting at linear voxel index off. A non-identity scale requires a Float
// volume. raw must hold whole elements; a trailing partial element fails with
// ErrTruncatedData.
func (v *Volume) DecodeRaw(raw []byte, st StorageType, order binary.ByteOrder, scale Scale, off int) error {
	size := st.Size()
	if size == 0 {
		return utils.Errorf(utils.ErrUnsupportedVoxelType, "storage type %v", st)
	}
	if len(raw)%size != 0 {
		return utils.Errorf(utils.ErrTruncatedData, "%d bytes is not a whole number of %v elements", len(raw), st)
	}
	n := len(raw) / size
	if off < 0 || off+n > v.NumVoxels() {
		return fmt.Errorf("decode of %d voxels at %d overruns buffer of %d", n, off, v.NumVoxels())
	}
	if !v.hasData {
		v.Allocate()
	}

	scaled := !scale.Identity()
	if scaled && v.vtype != Float {
		return fmt.Errorf("scaled storage requires a float volume, have %v", v.vtype)
	}

	if !scaled && st == StoreUint8 && v.vtype == UChar {
		copy(v.uchars[off:off+n], raw)
		return nil
	}

	for i := 0; i < n; i++ {
		b := raw[i*size:]
		var val float64
		switch st {
		case StoreUint8:
			val = float64(b[0])
		case StoreInt8:
			val = float64(int8(b[0]))
		case StoreInt16:
			val = float64(utils.DecodeScalar[int16](b, order))
		case StoreUint16:
			val = float64(utils.DecodeScalar[uint16](b, order))
		case StoreInt32:
			val = float64(utils.DecodeScalar[int32](b, order))
		case StoreFloat32:
			val = float64(utils.DecodeScalar[float32](b, order))
		case StoreFloat64:
			val = utils.DecodeScalar[float64](b, order)
		}
		if scaled {
			val = val*scale.Slope + scale.offset()
		}
		v.SetAt(off+i, val)
	}
	return nil
}

// ReadRaw reads n elements of storage type st from r, one slice at a time,
// and decodes them into the voxel buffer at linear index off. A stream that
// ends early fails with ErrTruncatedData.
func (v *Volume) ReadRaw(r io.Reader, st StorageType, order binary.ByteOrder, scale Scale, off, n int) error {
	size := st.Size()
	if size == 0 {
		return utils.Errorf(utils.ErrUnsupportedVoxelType, "storage type %v", st)
	}
	slice := max(v.width*v.height, 1)
	buf := make([]byte, slice*size)
	for done := 0; done < n; {
		count := min(slice, n-done)
		chunk := buf[:count*size]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return utils.Errorf(utils.ErrTruncatedData, "payload ends after %d of %d voxels", done, n)
			}
			return err
		}
		if err := v.DecodeRaw(chunk, st, order, scale, off+done); err != nil {
			return err
		}
		done += count
	}
	return nil
}

// EncodeRaw encodes n voxels starting at linear index off as storage type st.
func (v *Volume) EncodeRaw(off, n int, st StorageType, order binary.ByteOrder) ([]byte, error) {
	if !v.hasData {
		return nil, fmt.Errorf("volume has no voxel data")
	}
	if off < 0 || n < 0 || off+n > v.NumVoxels() {
		return nil, fmt.Errorf("encode of %d voxels at %d overruns buffer of %d", n, off, v.NumVoxels())
	}
	size := st.Size()
	if size == 0 {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "storage type %v", st)
	}
	out := make([]byte, n*size)
	if st == StoreUint8 && v.vtype == UChar {
		copy(out, v.uchars[off:off+n])
		return out, nil
	}
	for i := 0; i < n; i++ {
		val := v.At(off + i)
		b := out[i*size:]
		switch st {
		case StoreUint8:
			b[0] = uint8(clampTo(UChar, val))
		case StoreInt8:
			b[0] = byte(int8(math.Max(math.MinInt8, math.Min(math.MaxInt8, math.Round(val)))))
		case StoreInt16:
			order.PutUint16(b, uint16(int16(clampTo(Short, val))))
		case StoreUint16:
			order.PutUint16(b, uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(val)))))
		case StoreInt32:
			order.PutUint32(b, uint32(int32(clampTo(Int, val))))
		case StoreFloat32:
			order.PutUint32(b, math.Float32bits(float32(val)))
		case StoreFloat64:
			order.PutUint64(b, math.Float64bits(val))
		}
	}
	return out, nil
}

// SanitizeNonFinite replaces NaN and ±Inf voxels of a Float volume with zero
// and returns how many were replaced.
func (v *Volume) SanitizeNonFinite() int {
	if v.vtype != Float {
		return 0
	}
	count := 0
	for i, f := range v.floats {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			v.floats[i] = 0
			count++
		}
	}
	return count
}
