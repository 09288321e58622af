// Package mgh reads and writes MGH volumes and their gzip-compressed MGZ
// variant.
//
// Layout (big-endian):
//
//	0    int32   version (1)
//	4    int32   width, height, depth, frames, type, dof
//	28   int16   goodRASflag
//	30   float32 xsize, ysize, zsize
//	42   float32 x_r x_a x_s  y_r y_a y_s  z_r z_a z_s  c_r c_a c_s
//	284  voxels, frame-major
//	...  optional tail: TR, flip angle, TE, TI, FoV, then tags
package mgh

import (
	"encoding/binary"
	"math"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/utils"
)

// Version is the only MGH version in use.
const Version = 1

// HeaderSize is the offset of the voxel payload.
const HeaderSize = 284

// usedHeader is how much of HeaderSize carries fields.
const usedHeader = 90

var order = binary.BigEndian

// MGH voxel type codes.
const (
	TypeUChar = 0
	TypeInt   = 1
	TypeLong  = 2
	TypeFloat = 3
	TypeShort = 4
)

var storageFor = map[int32]core.StorageType{
	TypeUChar: core.StoreUint8,
	TypeInt:   core.StoreInt32,
	TypeFloat: core.StoreFloat32,
	TypeShort: core.StoreInt16,
}

var typeFor = map[core.VoxelType]int32{
	core.UChar: TypeUChar,
	core.Int:   TypeInt,
	core.Float: TypeFloat,
	core.Short: TypeShort,
}

// Header holds the fixed MGH header fields.
type Header struct {
	Width, Height, Depth, Frames int32
	Type                         int32
	DOF                          int32
	GoodRAS                      int16
	Spacing                      [3]float32
	Axes                         [3][3]float32 // x, y, z cosines
	Center                       [3]float32
}

// DecodeHeader parses the first usedHeader bytes of an MGH file.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < usedHeader {
		return nil, utils.Errorf(utils.ErrTruncatedData, "mgh header has %d bytes", len(b))
	}
	if v := utils.Int32At(b, 0, order); v != Version {
		return nil, utils.Errorf(utils.ErrBadMagic, "mgh version %d", v)
	}
	h := &Header{
		Width:   utils.Int32At(b, 4, order),
		Height:  utils.Int32At(b, 8, order),
		Depth:   utils.Int32At(b, 12, order),
		Frames:  utils.Int32At(b, 16, order),
		Type:    utils.Int32At(b, 20, order),
		DOF:     utils.Int32At(b, 24, order),
		GoodRAS: utils.Int16At(b, 28, order),
	}
	off := 30
	for i := range h.Spacing {
		h.Spacing[i] = utils.Float32At(b, off, order)
		off += 4
	}
	for i := range h.Axes {
		for j := range h.Axes[i] {
			h.Axes[i][j] = utils.Float32At(b, off, order)
			off += 4
		}
	}
	for i := range h.Center {
		h.Center[i] = utils.Float32At(b, off, order)
		off += 4
	}
	return h, nil
}

// Encode serializes h into HeaderSize bytes, zero padded.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	for i, v := range []int32{Version, h.Width, h.Height, h.Depth, h.Frames, h.Type, h.DOF} {
		order.PutUint32(b[4*i:], uint32(v))
	}
	order.PutUint16(b[28:], uint16(h.GoodRAS))
	off := 30
	put := func(v float32) {
		utils.PutFloat32At(b, off, v, order)
		off += 4
	}
	for _, s := range h.Spacing {
		put(s)
	}
	for _, a := range h.Axes {
		for _, c := range a {
			put(c)
		}
	}
	for _, c := range h.Center {
		put(c)
	}
	return b
}

// Plausible reports whether b starts like an MGH header: version 1, positive
// dimensions and a known type.
func Plausible(b []byte) bool {
	h, err := DecodeHeader(b)
	if err != nil {
		return false
	}
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 || h.Frames <= 0 {
		return false
	}
	_, ok := storageFor[h.Type]
	return ok || h.Type == TypeLong
}

// Storage returns the storage type for h.Type.
func (h *Header) Storage() (core.StorageType, error) {
	st, ok := storageFor[h.Type]
	if !ok {
		return 0, utils.Errorf(utils.ErrUnsupportedVoxelType, "mgh type %d", h.Type)
	}
	return st, nil
}

// Fields converts the geometry part of h for the resolver. Spacing is taken
// whenever it is positive; cosines and center only with goodRASflag set.
func (h *Header) Fields() geometry.Fields {
	f := geometry.Fields{Width: int(h.Width), Height: int(h.Height), Depth: int(h.Depth)}
	for i, s := range h.Spacing {
		f.Spacing[i] = 1
		if s > 0 && !math.IsInf(float64(s), 0) {
			f.Spacing[i] = float64(s)
		}
	}
	if h.GoodRAS > 0 {
		var axes [3]geometry.Vec3
		for i := range axes {
			axes[i] = geometry.Vec3{float64(h.Axes[i][0]), float64(h.Axes[i][1]), float64(h.Axes[i][2])}
		}
		f.Axes = &axes
		f.Center = geometry.Vec3{float64(h.Center[0]), float64(h.Center[1]), float64(h.Center[2])}
	}
	return f
}

// headerFor builds the header of v.
func headerFor(v *core.Volume) (*Header, error) {
	t, ok := typeFor[v.Type()]
	if !ok {
		return nil, utils.Errorf(utils.ErrUnsupportedVoxelType, "mgh cannot store %v", v.Type())
	}
	fr := v.Geometry()
	h := &Header{
		Width:  int32(v.Width()),
		Height: int32(v.Height()),
		Depth:  int32(v.Depth()),
		Frames: int32(v.Frames()),
		Type:   t,
	}
	if fr.Valid {
		h.GoodRAS = 1
	}
	for i := 0; i < 3; i++ {
		h.Spacing[i] = float32(fr.Spacing[i])
		h.Center[i] = float32(fr.Center[i])
		for j := 0; j < 3; j++ {
			h.Axes[i][j] = float32(fr.Axes[i][j])
		}
	}
	return h, nil
}
