package analyze

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/registry"
	"github.com/scigolib/volio/internal/utils"
)

const tol = 1e-5

func testEnv(path string) *registry.Env {
	return &registry.Env{Path: path, SequenceStart: 1}
}

func sampleVolume(t *testing.T, vt core.VoxelType, frames int) *core.Volume {
	t.Helper()
	v, err := core.NewVolume(4, 3, 2, frames, vt)
	require.NoError(t, err)
	for i := 0; i < v.NumVoxels(); i++ {
		v.SetAt(i, float64(i%60)*2)
	}
	c, s := math.Cos(0.4), math.Sin(0.4)
	v.SetGeometry(geometry.Frame{
		Spacing: geometry.Vec3{2, 2, 3.5},
		Axes:    [3]geometry.Vec3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}},
		Center:  geometry.Vec3{-10, 20, 5},
		Valid:   true,
	})
	v.Acq.TR = 3000
	return v
}

func read(t *testing.T, env *registry.Env, frames *registry.FrameRange) (*core.Volume, geometry.Result) {
	t.Helper()
	h, err := Codec{}.ReadHeader(env)
	require.NoError(t, err)
	res := geometry.Finalize(h.Fields)
	h.Volume.SetGeometry(res.Frame)
	applied, err := Codec{}.ReadPayload(env, h, frames)
	require.NoError(t, err)
	assert.Equal(t, frames != nil, applied)
	return h.Volume, res
}

func requireSameGeometry(t *testing.T, want, got geometry.Frame) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want.Spacing[i], got.Spacing[i], tol)
		assert.InDelta(t, want.Center[i], got.Center[i], tol)
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want.Axes[i][j], got.Axes[i][j], tol)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, vt := range []core.VoxelType{core.UChar, core.Short, core.Int, core.Float} {
		t.Run(vt.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vol.img")
			v := sampleVolume(t, vt, 1)
			require.NoError(t, Codec{}.Write(testEnv(path), v))
			for _, ext := range []string{".img", ".hdr", ".mat"} {
				assert.FileExists(t, filepath.Join(filepath.Dir(path), "vol"+ext))
			}

			got, res := read(t, testEnv(path), nil)
			assert.Equal(t, geometry.RuleAffine, res.Rule)
			require.Equal(t, vt, got.Type())
			requireSameGeometry(t, v.Geometry(), got.Geometry())
			assert.Equal(t, 3000.0, got.Acq.TR)
			for i := 0; i < v.NumVoxels(); i++ {
				require.Equal(t, v.At(i), got.At(i), "voxel %d", i)
			}
		})
	}
}

func TestHeaderPathReads(t *testing.T) {
	dir := t.TempDir()
	v := sampleVolume(t, core.Short, 1)
	require.NoError(t, Codec{}.Write(testEnv(filepath.Join(dir, "a.hdr")), v))
	got, _ := read(t, testEnv(filepath.Join(dir, "a.hdr")), nil)
	assert.Equal(t, v.At(5), got.At(5))
}

func writeRaw(t *testing.T, dir string, h *Header, payload []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.hdr"), h.Encode(), 0o644))
	img := filepath.Join(dir, "raw.img")
	require.NoError(t, os.WriteFile(img, payload, 0o644))
	return img
}

func TestOrientFallback(t *testing.T) {
	h := &Header{
		Dim:      [8]int16{3, 2, 2, 1},
		Datatype: DTUnsignedChar,
		Bitpix:   8,
		Pixdim:   [8]float32{0, 1, 1, 1},
		Orient:   4,
		Origin:   [3]int16{1, 1, 1},
	}
	path := writeRaw(t, t.TempDir(), h, []byte{1, 2, 3, 4})

	got, res := read(t, testEnv(path), nil)
	assert.Equal(t, geometry.RuleOrientationTag, res.Rule)
	assert.Equal(t, "LIA", got.Geometry().OrientationString())
	assert.Equal(t, geometry.Vec3{-1, 0.5, -1}, got.Geometry().Center)
	assert.True(t, got.GeometryValid())

	h.Orient = 9
	path = writeRaw(t, t.TempDir(), h, []byte{1, 2, 3, 4})
	_, res = read(t, testEnv(path), nil)
	assert.Equal(t, geometry.RuleDefault, res.Rule)
}

func TestUnusableSidecarFallsBackToOrient(t *testing.T) {
	h := &Header{
		Dim:      [8]int16{3, 2, 2, 1},
		Datatype: DTUnsignedChar,
		Bitpix:   8,
		Pixdim:   [8]float32{0, 1, 1, 1},
		Orient:   4,
		Origin:   [3]int16{1, 1, 1},
	}

	t.Run("unreadable", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRaw(t, dir, h, []byte{1, 2, 3, 4})
		sidecar := filepath.Join(dir, "raw.mat")
		require.NoError(t, os.Mkdir(sidecar, 0o755))

		_, found, err := readMat(sidecar)
		assert.True(t, found)
		require.Error(t, err)

		got, res := read(t, testEnv(path), nil)
		assert.Equal(t, geometry.RuleOrientationTag, res.Rule)
		assert.Equal(t, "LIA", got.Geometry().OrientationString())
	})

	t.Run("degenerate", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRaw(t, dir, h, []byte{1, 2, 3, 4})
		flat := mat.NewDense(4, 4, nil)
		flat.Set(3, 3, 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.mat"), EncodeMat(flat), 0o644))

		got, res := read(t, testEnv(path), nil)
		assert.Equal(t, geometry.RuleOrientationTag, res.Rule)
		assert.NotEmpty(t, res.Warning)
		assert.True(t, got.GeometryValid())
	})
}

func TestScaledAndBigEndian(t *testing.T) {
	h := &Header{
		Order:    binary.BigEndian,
		Dim:      [8]int16{3, 2, 1, 1},
		Datatype: DTSignedShort,
		Bitpix:   16,
		Pixdim:   [8]float32{0, 1, 1, 1},
		Scale:    0.5,
	}
	payload := []byte{0, 10, 0xff, 0xfe} // 10, -2
	path := writeRaw(t, t.TempDir(), h, payload)

	got, _ := read(t, testEnv(path), nil)
	require.Equal(t, core.Float, got.Type())
	assert.Equal(t, 5.0, got.At(0))
	assert.Equal(t, -1.0, got.At(1))
}

func TestUnsupportedDatatype(t *testing.T) {
	h := &Header{Dim: [8]int16{3, 1, 1, 1}, Datatype: 128, Bitpix: 24}
	path := writeRaw(t, t.TempDir(), h, []byte{1, 2, 3})
	_, err := Codec{}.ReadHeader(testEnv(path))
	require.ErrorIs(t, err, utils.ErrUnsupportedVoxelType)
}

func TestMissingFiles(t *testing.T) {
	_, err := Codec{}.ReadHeader(testEnv(filepath.Join(t.TempDir(), "none.img")))
	require.ErrorIs(t, err, utils.ErrNoSuchFile)
}

func TestSequence(t *testing.T) {
	dir := t.TempDir()
	v := sampleVolume(t, core.Short, 3)
	for f := 0; f < 3; f++ {
		v.SetVoxel(0, 0, 0, f, float64(1000+f))
	}
	require.NoError(t, Codec{}.Write(testEnv(filepath.Join(dir, "fmri.img")), v))
	for _, name := range []string{"fmri001.img", "fmri002.hdr", "fmri003.mat"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "fmri.img"))

	for _, name := range []string{"fmri.img", "fmri002.img"} {
		t.Run(name, func(t *testing.T) {
			got, _ := read(t, testEnv(filepath.Join(dir, name)), nil)
			require.Equal(t, 3, got.Frames())
			for f := 0; f < 3; f++ {
				assert.Equal(t, float64(1000+f), got.Voxel(0, 0, 0, f))
			}
			requireSameGeometry(t, v.Geometry(), got.Geometry())
		})
	}

	got, _ := read(t, testEnv(filepath.Join(dir, "fmri.img")), &registry.FrameRange{Start: 1, End: 2})
	require.Equal(t, 2, got.Frames())
	assert.Equal(t, 1001.0, got.Voxel(0, 0, 0, 0))
	assert.Equal(t, v.Voxel(3, 2, 1, 2), got.Voxel(3, 2, 1, 1))
}

func TestSequenceStartIndex(t *testing.T) {
	dir := t.TempDir()
	v := sampleVolume(t, core.UChar, 2)
	env := testEnv(filepath.Join(dir, "run.img"))
	env.SequenceStart = 0
	require.NoError(t, Codec{}.Write(env, v))
	assert.FileExists(t, filepath.Join(dir, "run000.img"))
	assert.FileExists(t, filepath.Join(dir, "run001.img"))

	// Default start of 1 finds run001 and scans back to run000.
	got, _ := read(t, testEnv(filepath.Join(dir, "run.img")), nil)
	assert.Equal(t, 2, got.Frames())
}

func TestSidecarFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vol.mat"), 0o755))
	err := Codec{}.Write(testEnv(filepath.Join(dir, "vol.img")), sampleVolume(t, core.Float, 1))
	var se *registry.SidecarError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, filepath.Join(dir, "vol.mat"), se.Path)
	assert.FileExists(t, filepath.Join(dir, "vol.img"))
}

func TestMatDecoding(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		-2, 0, 0, 92,
		0, 2, 0, -128,
		0, 0, 2, -74,
		0, 0, 0, 1,
	})
	got, err := DecodeMat(EncodeMat(m))
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))

	// Big-endian single precision, preceded by another variable.
	var buf bytes.Buffer
	be := binary.BigEndian
	for _, x := range []int32{1010, 1, 1, 0, 4} {
		require.NoError(t, utils.WriteScalar(&buf, x, be))
	}
	buf.WriteString("mat\x00")
	require.NoError(t, utils.WriteScalar(&buf, float32(7), be))
	for _, x := range []int32{1010, 4, 4, 0, 2} {
		require.NoError(t, utils.WriteScalar(&buf, x, be))
	}
	buf.WriteString("M\x00")
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			require.NoError(t, utils.WriteScalar(&buf, float32(m.At(r, c)), be))
		}
	}
	got, err = DecodeMat(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))

	text := "-2 0 0 92\n0 2 0 -128\n0 0 2 -74\n0 0 0 1\n"
	got, err = DecodeMat([]byte(text))
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))

	_, err = DecodeMat([]byte("1 2 3"))
	require.ErrorIs(t, err, utils.ErrBadMagic)
}

func TestIndexBaseConversion(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		1, 0, 0, 10,
		0, 1, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	})
	zero := toZeroBased(m)
	assert.Equal(t, 11.0, zero.At(0, 3))
	assert.True(t, mat.EqualApprox(m, toOneBased(zero), 1e-12))
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	v := sampleVolume(t, core.UChar, 1)
	require.NoError(t, Codec{}.Write(testEnv(filepath.Join(dir, "p.img")), v))
	hdr, err := os.ReadFile(filepath.Join(dir, "p.hdr"))
	require.NoError(t, err)

	assert.True(t, Probe(registry.ProbeInput{Path: filepath.Join(dir, "p.hdr"), Prefix: hdr}))
	assert.True(t, Probe(registry.ProbeInput{Path: filepath.Join(dir, "p.img"), Prefix: []byte{0, 1}}))
	assert.False(t, Probe(registry.ProbeInput{Path: filepath.Join(dir, "p.hdr"), Prefix: hdr, Gzipped: true}))

	copy(hdr[344:], "ni1\x00")
	assert.False(t, Probe(registry.ProbeInput{Path: filepath.Join(dir, "p.hdr"), Prefix: hdr}))
}
