// Package nifti reads and writes NIfTI-1 volumes: single-file .nii,
// gzip-compressed .nii.gz and .hdr/.img pairs.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/utils"
)

// HeaderSize is sizeof_hdr for NIfTI-1.
const HeaderSize = 348

// SingleFileOffset is the minimum vox_offset of an n+1 file: the header plus
// the 4-byte extension flag.
const SingleFileOffset = 352

// Field offsets within the 348-byte header.
const (
	offSizeofHdr = 0
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offXYZTUnits = 123
	offDescrip   = 148
	offQformCode = 252
	offSformCode = 254
	offQuaternB  = 256
	offQuaternC  = 260
	offQuaternD  = 264
	offQOffsetX  = 268
	offSrowX     = 280
	offSrowY     = 296
	offSrowZ     = 312
	offMagic     = 344

	descripLen = 80
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// NIfTI-1 datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
)

var datatypes = map[int16]core.StorageType{
	DTUint8:   core.StoreUint8,
	DTInt16:   core.StoreInt16,
	DTInt32:   core.StoreInt32,
	DTFloat32: core.StoreFloat32,
	DTFloat64: core.StoreFloat64,
	DTInt8:    core.StoreInt8,
	DTUint16:  core.StoreUint16,
}

// Units in xyzt_units.
const (
	unitMeter  = 1
	unitMM     = 2
	unitMicron = 3
	unitSec    = 8
	unitMsec   = 16
	unitUsec   = 24
)

// Header is the decoded subset of a NIfTI-1 header that volio uses.
type Header struct {
	Order     binary.ByteOrder
	Dim       [8]int16
	Datatype  int16
	Bitpix    int16
	Pixdim    [8]float32
	VoxOffset float32
	SclSlope  float32
	SclInter  float32
	XYZTUnits byte
	Descrip   string
	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QOffset   [3]float32
	Srow      [3][4]float32
	Magic     [4]byte
}

// DetectOrder returns the byte order in which sizeof_hdr reads 348, or
// ErrBadMagic if it does in neither.
func DetectOrder(b []byte) (binary.ByteOrder, error) {
	if len(b) < 4 {
		return nil, utils.Errorf(utils.ErrTruncatedData, "header has %d bytes", len(b))
	}
	n := binary.LittleEndian.Uint32(b[offSizeofHdr:])
	switch {
	case n == HeaderSize:
		return binary.LittleEndian, nil
	case utils.Swap32(n) == HeaderSize:
		return binary.BigEndian, nil
	default:
		return nil, utils.Errorf(utils.ErrBadMagic, "sizeof_hdr is neither %d little- nor big-endian", HeaderSize)
	}
}

// HasMagic reports whether b carries an n+1 or ni1 magic.
func HasMagic(b []byte) bool {
	if len(b) < offMagic+4 {
		return false
	}
	var m [4]byte
	copy(m[:], b[offMagic:])
	return m == magicSingle || m == magicPair
}

// DecodeHeader parses a 348-byte NIfTI-1 header.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, utils.Errorf(utils.ErrTruncatedData, "nifti header has %d of %d bytes", len(b), HeaderSize)
	}
	order, err := DetectOrder(b)
	if err != nil {
		return nil, err
	}

	h := &Header{Order: order}
	copy(h.Magic[:], b[offMagic:])
	if h.Magic != magicSingle && h.Magic != magicPair {
		return nil, utils.Errorf(utils.ErrBadMagic, "nifti magic %q", h.Magic[:3])
	}

	for i := range h.Dim {
		h.Dim[i] = utils.Int16At(b, offDim+2*i, order)
	}
	h.Datatype = utils.Int16At(b, offDatatype, order)
	h.Bitpix = utils.Int16At(b, offBitpix, order)
	for i := range h.Pixdim {
		h.Pixdim[i] = utils.Float32At(b, offPixdim+4*i, order)
	}
	h.VoxOffset = utils.Float32At(b, offVoxOffset, order)
	h.SclSlope = utils.Float32At(b, offSclSlope, order)
	h.SclInter = utils.Float32At(b, offSclInter, order)
	h.XYZTUnits = b[offXYZTUnits]
	h.Descrip = string(bytes.TrimRight(b[offDescrip:offDescrip+descripLen], "\x00"))
	h.QformCode = utils.Int16At(b, offQformCode, order)
	h.SformCode = utils.Int16At(b, offSformCode, order)
	h.QuaternB = utils.Float32At(b, offQuaternB, order)
	h.QuaternC = utils.Float32At(b, offQuaternC, order)
	h.QuaternD = utils.Float32At(b, offQuaternD, order)
	for i := range h.QOffset {
		h.QOffset[i] = utils.Float32At(b, offQOffsetX+4*i, order)
	}
	for r, off := range [3]int{offSrowX, offSrowY, offSrowZ} {
		for c := 0; c < 4; c++ {
			h.Srow[r][c] = utils.Float32At(b, off+4*c, order)
		}
	}
	return h, nil
}

// Encode serializes h into a 348-byte header.
func (h *Header) Encode() []byte {
	order := h.Order
	if order == nil {
		order = binary.LittleEndian
	}
	b := make([]byte, HeaderSize)
	order.PutUint32(b[offSizeofHdr:], HeaderSize)
	for i, d := range h.Dim {
		order.PutUint16(b[offDim+2*i:], uint16(d))
	}
	order.PutUint16(b[offDatatype:], uint16(h.Datatype))
	order.PutUint16(b[offBitpix:], uint16(h.Bitpix))
	for i, p := range h.Pixdim {
		utils.PutFloat32At(b, offPixdim+4*i, p, order)
	}
	utils.PutFloat32At(b, offVoxOffset, h.VoxOffset, order)
	utils.PutFloat32At(b, offSclSlope, h.SclSlope, order)
	utils.PutFloat32At(b, offSclInter, h.SclInter, order)
	b[offXYZTUnits] = h.XYZTUnits
	copy(b[offDescrip:offDescrip+descripLen-1], h.Descrip)
	order.PutUint16(b[offQformCode:], uint16(h.QformCode))
	order.PutUint16(b[offSformCode:], uint16(h.SformCode))
	utils.PutFloat32At(b, offQuaternB, h.QuaternB, order)
	utils.PutFloat32At(b, offQuaternC, h.QuaternC, order)
	utils.PutFloat32At(b, offQuaternD, h.QuaternD, order)
	for i, q := range h.QOffset {
		utils.PutFloat32At(b, offQOffsetX+4*i, q, order)
	}
	for r, off := range [3]int{offSrowX, offSrowY, offSrowZ} {
		for c := 0; c < 4; c++ {
			utils.PutFloat32At(b, off+4*c, h.Srow[r][c], order)
		}
	}
	copy(b[offMagic:], h.Magic[:])
	return b
}

// Storage maps the datatype code to a storage type.
func (h *Header) Storage() (core.StorageType, error) {
	st, ok := datatypes[h.Datatype]
	if !ok {
		return 0, utils.Errorf(utils.ErrUnsupportedVoxelType, "nifti datatype %d", h.Datatype)
	}
	return st, nil
}

// Scale returns the scl_slope/scl_inter pair.
func (h *Header) Scale() core.Scale {
	return core.Scale{Slope: float64(h.SclSlope), Intercept: float64(h.SclInter)}
}

// Shape returns width, height, depth and frames. Axes beyond dim[0] count
// as 1; dimensions 4..7 are folded into frames.
func (h *Header) Shape() (w, ht, d, frames int, err error) {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return 0, 0, 0, 0, fmt.Errorf("nifti dim[0] = %d", n)
	}
	size := func(i int) int {
		if i > n || h.Dim[i] < 1 {
			return 1
		}
		return int(h.Dim[i])
	}
	frames = 1
	for i := 4; i <= n; i++ {
		frames *= size(i)
	}
	return size(1), size(2), size(3), frames, nil
}

// SpaceFactor converts stored lengths to mm. Unknown units are taken as mm.
func (h *Header) SpaceFactor() float64 {
	switch h.XYZTUnits & 0x07 {
	case unitMeter:
		return 1000
	case unitMicron:
		return 0.001
	default:
		return 1
	}
}

// TimeFactor converts the stored repetition time to ms. Unknown units are
// taken as ms.
func (h *Header) TimeFactor() float64 {
	switch h.XYZTUnits & 0x38 {
	case unitSec:
		return 1000
	case unitUsec:
		return 0.001
	default:
		return 1
	}
}

// Single reports whether the header belongs to a single-file volume.
func (h *Header) Single() bool { return h.Magic == magicSingle }
