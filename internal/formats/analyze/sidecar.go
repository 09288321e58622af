package analyze

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/utils"
)

// MATLAB v4 matrix header: type, rows, cols, imagf, namelen.
const matHeaderSize = 20

// MatVariable is the variable SPM stores its voxel-to-world matrix in.
const MatVariable = "M"

type matHeader struct {
	order      binary.ByteOrder
	precision  int // 0 double, 1 single
	rows, cols int
	imag       bool
	nameLen    int
}

func parseMatHeader(b []byte) (matHeader, bool) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		typ := int32(order.Uint32(b[0:]))
		m, o, p, t := typ/1000, typ/100%10, typ/10%10, typ%10
		if typ < 0 || m > 1 || o != 0 || t != 0 || p > 1 {
			continue
		}
		if (m == 0) != (order == binary.ByteOrder(binary.LittleEndian)) {
			continue
		}
		h := matHeader{
			order:     order,
			precision: int(p),
			rows:      int(int32(order.Uint32(b[4:]))),
			cols:      int(int32(order.Uint32(b[8:]))),
			imag:      order.Uint32(b[12:]) != 0,
			nameLen:   int(int32(order.Uint32(b[16:]))),
		}
		if h.rows <= 0 || h.cols <= 0 || h.rows > 1<<16 || h.cols > 1<<16 || h.nameLen <= 0 || h.nameLen > 64 {
			continue
		}
		return h, true
	}
	return matHeader{}, false
}

// DecodeMat extracts the 4x4 M matrix from a MATLAB v4 file, or from a text
// file of four rows of four numbers.
func DecodeMat(b []byte) (*mat.Dense, error) {
	if len(b) >= matHeaderSize {
		if _, ok := parseMatHeader(b); ok {
			return decodeMatV4(b)
		}
	}
	return decodeMatText(b)
}

func decodeMatV4(b []byte) (*mat.Dense, error) {
	r := bytes.NewReader(b)
	hdr := make([]byte, matHeaderSize)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("no %q variable in .mat file", MatVariable)
			}
			return nil, utils.WrapError(".mat variable header", utils.ErrTruncatedData)
		}
		h, ok := parseMatHeader(hdr)
		if !ok {
			return nil, utils.Errorf(utils.ErrBadMagic, "unrecognized MATLAB v4 header")
		}
		name := make([]byte, h.nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, utils.WrapError(".mat variable name", utils.ErrTruncatedData)
		}
		elem := 8
		if h.precision == 1 {
			elem = 4
		}
		n := h.rows * h.cols
		if h.imag {
			n *= 2
		}
		if err := utils.ValidateBufferSize(uint64(n*elem), utils.MaxHeaderBytes, ".mat variable "+strings.TrimRight(string(name), "\x00")); err != nil {
			return nil, err
		}
		data := make([]byte, n*elem)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, utils.WrapError(".mat variable data", utils.ErrTruncatedData)
		}
		if strings.TrimRight(string(name), "\x00") != MatVariable {
			continue
		}
		if h.rows != 4 || h.cols != 4 {
			return nil, fmt.Errorf(".mat variable %s is %dx%d, want 4x4", MatVariable, h.rows, h.cols)
		}
		m := mat.NewDense(4, 4, nil)
		for i := 0; i < 16; i++ {
			var v float64
			if elem == 8 {
				v = utils.DecodeScalar[float64](data[i*8:], h.order)
			} else {
				v = float64(utils.DecodeScalar[float32](data[i*4:], h.order))
			}
			// column-major
			m.Set(i%4, i/4, v)
		}
		return m, nil
	}
}

func decodeMatText(b []byte) (*mat.Dense, error) {
	fields := strings.Fields(string(b))
	if len(fields) != 16 {
		return nil, utils.Errorf(utils.ErrBadMagic, ".mat text holds %d numbers, want 16", len(fields))
	}
	vals := make([]float64, 16)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, utils.Errorf(utils.ErrBadMagic, ".mat text: %v", err)
		}
		vals[i] = v
	}
	return mat.NewDense(4, 4, vals), nil
}

// EncodeMat serializes m as a little-endian MATLAB v4 file holding M.
func EncodeMat(m mat.Matrix) []byte {
	var buf bytes.Buffer
	name := MatVariable + "\x00"
	for _, v := range []int32{0, 4, 4, 0, int32(len(name))} {
		_ = utils.WriteScalar(&buf, v, binary.LittleEndian)
	}
	buf.WriteString(name)
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			_ = utils.WriteScalar(&buf, m.At(r, c), binary.LittleEndian)
		}
	}
	return buf.Bytes()
}

// readMat loads a sidecar. found is false only when path does not exist;
// a sidecar that exists but cannot be read or decoded reports found with err.
func readMat(path string) (m *mat.Dense, found bool, err error) {
	//nolint:gosec // G304: sidecar of a caller-supplied volume path
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, true, err
	}
	m, err = DecodeMat(b)
	return m, true, err
}

// toZeroBased converts an SPM matrix, which maps 1-based voxel indices, to
// one mapping 0-based indices.
func toZeroBased(m mat.Matrix) *mat.Dense {
	return shiftIndex(m, 1)
}

// toOneBased is the inverse of toZeroBased.
func toOneBased(m mat.Matrix) *mat.Dense {
	return shiftIndex(m, -1)
}

// shiftIndex returns m * T where T translates voxel indices by d.
func shiftIndex(m mat.Matrix, d float64) *mat.Dense {
	t := mat.NewDense(4, 4, []float64{
		1, 0, 0, d,
		0, 1, 0, d,
		0, 0, 1, d,
		0, 0, 0, 1,
	})
	var out mat.Dense
	out.Mul(m, t)
	return &out
}
