package genesis

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/registry"
	vtesting "github.com/scigolib/volio/internal/testing"
	"github.com/scigolib/volio/internal/utils"
)

const (
	testW, testH = 4, 3
	pixelStart   = fileHeaderSize + imageHeaderSize
)

// sliceFile builds an axial slice at height z (LPS and RAS agree on S).
func sliceFile(z float32, fill int16, bits int32) []byte {
	b := make([]byte, pixelStart+2*testW*testH)
	copy(b, Magic)
	order.PutUint32(b[offPixelData:], pixelStart)
	order.PutUint32(b[offWidth:], testW)
	order.PutUint32(b[offHeight:], testH)
	order.PutUint32(b[offBits:], uint32(bits))
	order.PutUint32(b[offImageHeader:], fileHeaderSize)

	ih := b[fileHeaderSize:]
	putVec := func(off int, x, y, z float32) {
		utils.PutFloat32At(ih, off, x, order)
		utils.PutFloat32At(ih, off+4, y, order)
		utils.PutFloat32At(ih, off+8, z, order)
	}
	utils.PutFloat32At(ih, offSliceThick, 1.5, order)
	utils.PutFloat32At(ih, offPixsizeX, 0.5, order)
	utils.PutFloat32At(ih, offPixsizeY, 0.5, order)
	putVec(offCenter, 0, 0, z)
	putVec(offNormal, 0, 0, 1)
	putVec(offTopLeft, 10, 20, z)
	putVec(offTopRight, -10, 20, z)
	putVec(offBotRight, -10, -20, z)
	order.PutUint32(ih[offTR:], 2000000)
	order.PutUint32(ih[offTI:], 0)
	order.PutUint32(ih[offTE:], 30000)
	order.PutUint16(ih[offFlip:], 90)

	for i := 0; i < testW*testH; i++ {
		order.PutUint16(b[pixelStart+2*i:], uint16(fill+int16(i)))
	}
	return b
}

func writeSeries(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		name := filepath.Join(dir, "I."+[]string{"", "001", "002", "003", "004"}[i])
		require.NoError(t, os.WriteFile(name, sliceFile(float32(2*(i-1)), int16(100*i), 16), 0o644))
	}
	return dir
}

func TestReadSeries(t *testing.T) {
	dir := writeSeries(t, 3)
	env := &registry.Env{Path: filepath.Join(dir, "I.002")}
	h, err := Codec{}.ReadHeader(env)
	require.NoError(t, err)
	res := geometry.Finalize(h.Fields)
	assert.Equal(t, geometry.RuleCosines, res.Rule)
	h.Volume.SetGeometry(res.Frame)

	applied, err := Codec{}.ReadPayload(env, h, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	v := h.Volume
	require.Equal(t, 3, v.Depth())
	for z := 0; z < 3; z++ {
		assert.Equal(t, float64(100*(z+1)), v.Voxel(0, 0, z, 0))
	}
	assert.Equal(t, float64(100+testW*testH-1), v.Voxel(testW-1, testH-1, 0, 0))

	fr := v.Geometry()
	assert.Equal(t, geometry.Vec3{0.5, 0.5, 2}, fr.Spacing)
	assert.Equal(t, [3]geometry.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, fr.Axes)
	assert.Equal(t, geometry.Vec3{0, 0, 2}, fr.Center)
	assert.Equal(t, 2000.0, v.Acq.TR)
	assert.Equal(t, 30.0, v.Acq.TE)
	assert.InDelta(t, math.Pi/2, v.Acq.FlipAngle, 1e-12)
}

func TestSingleSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slice")
	require.NoError(t, os.WriteFile(path, sliceFile(7, 5, 16), 0o644))
	h, err := Codec{}.ReadHeader(&registry.Env{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, h.Volume.Depth())
	assert.Equal(t, geometry.Vec3{0.5, 0.5, 1.5}, h.Fields.Spacing)
	assert.Equal(t, geometry.Vec3{0, 0, 1}, h.Fields.Axes[2])
	assert.Equal(t, geometry.Vec3{0, 0, 7}, h.Fields.Center)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	bits := filepath.Join(dir, "bits")
	require.NoError(t, os.WriteFile(bits, sliceFile(0, 0, 8), 0o644))
	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, sliceFile(0, 0, 16)[:200], 0o644))
	magic := filepath.Join(dir, "magic")
	require.NoError(t, os.WriteFile(magic, make([]byte, 600), 0o644))

	tests := []struct {
		path string
		want error
	}{
		{bits, utils.ErrUnsupportedVoxelType},
		{short, utils.ErrTruncatedData},
		{magic, utils.ErrBadMagic},
		{filepath.Join(dir, "I.001"), utils.ErrNoSuchFile},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			_, err := Codec{}.ReadHeader(&registry.Env{Path: tt.path})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeSlice(t *testing.T) {
	b := sliceFile(4, 0, 16)
	r := vtesting.NewMockReaderAt(b)
	s, err := DecodeSlice(r)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, fileHeaderSize}, r.Offsets)
	assert.Equal(t, int64(pixelStart), s.PixelOffset)
	assert.Equal(t, geometry.Vec3{-10, -20, 4}, s.TopLeft)
	assert.Equal(t, geometry.Vec3{0, 0, 4}, s.Center)

	// Image header cut short.
	_, err = DecodeSlice(vtesting.Truncated(b, fileHeaderSize+100))
	require.ErrorIs(t, err, utils.ErrTruncatedData)

	_, err = DecodeSlice(vtesting.Truncated(b, 3))
	require.ErrorIs(t, err, utils.ErrTruncatedData)
}

func TestMismatchedSlice(t *testing.T) {
	dir := writeSeries(t, 2)
	odd := sliceFile(2, 0, 16)
	order.PutUint32(odd[offWidth:], testW-1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "I.002"), odd, 0o644))

	env := &registry.Env{Path: filepath.Join(dir, "I.001")}
	h, err := Codec{}.ReadHeader(env)
	require.NoError(t, err)
	_, err = Codec{}.ReadPayload(env, h, nil)
	require.ErrorIs(t, err, utils.ErrInconsistentSliceCount)
}

func TestProbe(t *testing.T) {
	d := Descriptor()
	assert.True(t, d.Probe(registry.ProbeInput{Prefix: sliceFile(0, 0, 16)}))
	assert.False(t, d.Probe(registry.ProbeInput{Prefix: []byte("IMG")}))
	assert.False(t, d.Capabilities.Has(registry.CapWrite))
}
