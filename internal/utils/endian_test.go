package utils

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwapIdempotence(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x1234, 0xFF00, math.MaxUint16} {
		require.Equal(t, v, Swap16(Swap16(v)))
	}
	for _, v := range []uint32{0, 1, 348, 0xFF000000, math.MaxUint32} {
		require.Equal(t, v, Swap32(Swap32(v)))
	}
	for _, v := range []uint64{0, 1, 0x0102030405060708, math.MaxUint64} {
		require.Equal(t, v, Swap64(Swap64(v)))
	}
}

func TestSwapValues(t *testing.T) {
	require.Equal(t, uint16(0x3412), Swap16(0x1234))
	require.Equal(t, uint32(0x78563412), Swap32(0x12345678))
	require.Equal(t, uint32(348), Swap32(0x5c010000))
	require.Equal(t, uint64(0x0807060504030201), Swap64(0x0102030405060708))
}

func TestSwapBuffer(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		width   int
		want    []byte
		wantErr error
	}{
		{"bytes", []byte{1, 2, 3}, 1, []byte{1, 2, 3}, nil},
		{"shorts", []byte{1, 2, 3, 4}, 2, []byte{2, 1, 4, 3}, nil},
		{"ints", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 4, []byte{4, 3, 2, 1, 8, 7, 6, 5}, nil},
		{"doubles", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 8, []byte{8, 7, 6, 5, 4, 3, 2, 1}, nil},
		{"partial", []byte{1, 2, 3}, 2, nil, ErrTruncatedData},
		{"width", []byte{1, 2, 3}, 3, nil, ErrUnsupportedVoxelType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), tt.data...)
			err := SwapBuffer(buf, tt.width)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, buf)
			require.NoError(t, SwapBuffer(buf, tt.width))
			require.Equal(t, tt.data, buf)
		})
	}
}

func TestReadScalar(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0x5c, 0x41, 0xf0, 0x00, 0x00}
	r := bytes.NewReader(data)

	v, err := ReadScalar[int32](r, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, int32(348), v)

	f, err := ReadScalar[float32](r, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, float32(30), f)

	_, err = ReadScalar[int16](r, binary.BigEndian)
	require.ErrorIs(t, err, ErrTruncatedData)
}

func TestReadScalar_ShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x02, 0x03})
	v, err := ReadScalar[uint32](r, binary.LittleEndian)
	require.ErrorIs(t, err, ErrTruncatedData)
	require.Zero(t, v)
}

func TestWriteScalar_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScalar(&buf, int16(-2), binary.BigEndian))
	require.NoError(t, WriteScalar(&buf, float64(1.5), binary.LittleEndian))
	require.Equal(t, []byte{0xff, 0xfe}, buf.Bytes()[:2])

	s, err := ReadScalar[int16](&buf, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, int16(-2), s)
	d, err := ReadScalar[float64](&buf, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, 1.5, d)
}

func TestDecodeScalar(t *testing.T) {
	b := []byte{0x3f, 0x80, 0x00, 0x00, 0, 0, 0, 0}
	require.Equal(t, float32(1), DecodeScalar[float32](b, binary.BigEndian))
	require.Equal(t, int8(0x3f), DecodeScalar[int8](b, binary.BigEndian))
	require.Equal(t, uint16(0x803f), DecodeScalar[uint16](b, binary.LittleEndian))

	type code int16
	type level float64
	require.Equal(t, code(0x3f80), DecodeScalar[code](b, binary.BigEndian))
	f := make([]byte, 8)
	binary.LittleEndian.PutUint64(f, math.Float64bits(-2.25))
	require.Equal(t, level(-2.25), DecodeScalar[level](f, binary.LittleEndian))
}

func TestHeaderFieldHelpers(t *testing.T) {
	b := make([]byte, 16)
	PutFloat32At(b, 4, 2.5, binary.BigEndian)
	require.Equal(t, float32(2.5), Float32At(b, 4, binary.BigEndian))

	binary.LittleEndian.PutUint16(b[8:], 0xfffe)
	require.Equal(t, int16(-2), Int16At(b, 8, binary.LittleEndian))

	binary.BigEndian.PutUint32(b[12:], 0xffffffff)
	require.Equal(t, int32(-1), Int32At(b, 12, binary.BigEndian))
}
