// Package analyze reads and writes Analyze 7.5 image pairs (.hdr/.img) with
// the SPM .mat geometry sidecar and numbered per-frame sequences.
package analyze

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/formats/nifti"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/utils"
)

// HeaderSize is the size of an Analyze header; sizeof_hdr holds it.
const HeaderSize = 348

const (
	offSizeofHdr  = 0
	offExtents    = 32
	offRegular    = 38
	offDim        = 40
	offDatatype   = 70
	offBitpix     = 72
	offPixdim     = 76
	offVoxOffset  = 108
	offFunused1   = 112
	offGLMax      = 140
	offGLMin      = 144
	offDescrip    = 148
	offOrient     = 252
	offOriginator = 253
)

// Datatype codes.
const (
	DTUnsignedChar = 2
	DTSignedShort  = 4
	DTSignedInt    = 8
	DTFloat        = 16
	DTDouble       = 64
)

var datatypes = map[int16]core.StorageType{
	DTUnsignedChar: core.StoreUint8,
	DTSignedShort:  core.StoreInt16,
	DTSignedInt:    core.StoreInt32,
	DTFloat:        core.StoreFloat32,
	DTDouble:       core.StoreFloat64,
}

var datatypeFor = map[core.VoxelType]int16{
	core.UChar: DTUnsignedChar,
	core.Short: DTSignedShort,
	core.Int:   DTSignedInt,
	core.Float: DTFloat,
}

// Header is the subset of the Analyze header volio uses.
type Header struct {
	Order     binary.ByteOrder
	Dim       [8]int16
	Datatype  int16
	Bitpix    int16
	Pixdim    [8]float32
	VoxOffset float32
	Scale     float32 // funused1, the SPM scale factor
	GLMax     int32
	GLMin     int32
	Descrip   string
	Orient    byte
	Origin    [3]int16 // SPM originator, 1-based voxel of world zero
}

// DecodeHeader parses a 348-byte header in either byte order.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, utils.Errorf(utils.ErrTruncatedData, "analyze header has %d bytes", len(b))
	}
	order, err := nifti.DetectOrder(b)
	if err != nil {
		return nil, err
	}
	h := &Header{
		Order:     order,
		Datatype:  int16(order.Uint16(b[offDatatype:])),
		Bitpix:    int16(order.Uint16(b[offBitpix:])),
		VoxOffset: utils.Float32At(b, offVoxOffset, order),
		Scale:     utils.Float32At(b, offFunused1, order),
		GLMax:     utils.Int32At(b, offGLMax, order),
		GLMin:     utils.Int32At(b, offGLMin, order),
		Descrip:   strings.TrimRight(string(b[offDescrip:offDescrip+80]), "\x00 "),
		Orient:    b[offOrient],
	}
	for i := range h.Dim {
		h.Dim[i] = utils.Int16At(b, offDim+2*i, order)
		h.Pixdim[i] = utils.Float32At(b, offPixdim+4*i, order)
	}
	for i := range h.Origin {
		h.Origin[i] = utils.Int16At(b, offOriginator+2*i, order)
	}
	return h, nil
}

// Encode serializes h in h.Order, little-endian when unset.
func (h *Header) Encode() []byte {
	order := h.Order
	if order == nil {
		order = binary.LittleEndian
	}
	b := make([]byte, HeaderSize)
	order.PutUint32(b[offSizeofHdr:], HeaderSize)
	order.PutUint32(b[offExtents:], 16384)
	b[offRegular] = 'r'
	for i := range h.Dim {
		order.PutUint16(b[offDim+2*i:], uint16(h.Dim[i]))
		utils.PutFloat32At(b, offPixdim+4*i, h.Pixdim[i], order)
	}
	order.PutUint16(b[offDatatype:], uint16(h.Datatype))
	order.PutUint16(b[offBitpix:], uint16(h.Bitpix))
	utils.PutFloat32At(b, offVoxOffset, h.VoxOffset, order)
	utils.PutFloat32At(b, offFunused1, h.Scale, order)
	order.PutUint32(b[offGLMax:], uint32(h.GLMax))
	order.PutUint32(b[offGLMin:], uint32(h.GLMin))
	copy(b[offDescrip:offDescrip+79], h.Descrip)
	b[offOrient] = h.Orient
	for i, o := range h.Origin {
		order.PutUint16(b[offOriginator+2*i:], uint16(o))
	}
	return b
}

// Storage returns the storage type of h.Datatype.
func (h *Header) Storage() (core.StorageType, error) {
	st, ok := datatypes[h.Datatype]
	if !ok {
		return 0, utils.Errorf(utils.ErrUnsupportedVoxelType, "analyze datatype %d", h.Datatype)
	}
	return st, nil
}

// StoredScale returns the decode scale. funused1 of 0 or 1 means unscaled.
func (h *Header) StoredScale() core.Scale {
	return core.Scale{Slope: float64(h.Scale)}
}

// Shape returns the image dimensions. Unused trailing dims read as 1.
func (h *Header) Shape() (w, ht, d, frames int, err error) {
	n := int(h.Dim[0])
	if n < 2 || n > 7 {
		return 0, 0, 0, 0, utils.Errorf(utils.ErrBadMagic, "analyze dim[0] = %d", n)
	}
	dims := [4]int{1, 1, 1, 1}
	for i := 1; i <= min(n, 4); i++ {
		if h.Dim[i] <= 0 {
			return 0, 0, 0, 0, utils.Errorf(utils.ErrBadMagic, "analyze dim[%d] = %d", i, h.Dim[i])
		}
		dims[i-1] = int(h.Dim[i])
	}
	return dims[0], dims[1], dims[2], dims[3], nil
}

// Spacing returns the absolute voxel sizes, 1mm where unset.
func (h *Header) Spacing() geometry.Vec3 {
	var s geometry.Vec3
	for i := range s {
		s[i] = math.Abs(float64(h.Pixdim[i+1]))
		if s[i] == 0 || math.IsNaN(s[i]) || math.IsInf(s[i], 0) {
			s[i] = 1
		}
	}
	return s
}

// Orientation decodes the orient byte: 0..2 transverse, coronal and
// sagittal, 3..5 the same planes flipped.
func (h *Header) Orientation() (o geometry.SliceOrientation, flipped bool, ok bool) {
	if h.Orient > 5 {
		return geometry.OrientUnknown, false, false
	}
	planes := [3]geometry.SliceOrientation{geometry.OrientAxial, geometry.OrientCoronal, geometry.OrientSagittal}
	return planes[h.Orient%3], h.Orient >= 3, true
}

// OriginCenter returns the world position of the center voxel implied by
// the SPM originator for the given cosines. ok is false when no originator
// is stored.
func (h *Header) OriginCenter(axes [3]geometry.Vec3) (c geometry.Vec3, ok bool) {
	if h.Origin == [3]int16{} {
		return c, false
	}
	sp := h.Spacing()
	dims := [3]int16{h.Dim[1], h.Dim[2], h.Dim[3]}
	for i := range axes {
		off := float64(dims[i])/2 - float64(h.Origin[i]-1)
		for r := 0; r < 3; r++ {
			c[r] += axes[i][r] * sp[i] * off
		}
	}
	return c, true
}
