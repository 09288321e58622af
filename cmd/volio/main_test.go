package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/volio"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"volio"}, args...))
	return out.String(), err
}

func writeSample(t *testing.T, path string) *volio.Volume {
	t.Helper()
	v, err := volio.NewVolume(3, 3, 2, 1, volio.Short)
	require.NoError(t, err)
	for i := 0; i < v.NumVoxels(); i++ {
		v.SetAt(i, float64(i))
	}
	v.Acq.TR = 2500
	require.NoError(t, volio.Write(v, path, volio.WithCompression(volio.CompressBuiltin)))
	return v
}

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	hexDump(&buf, []byte("IMGF\x00\x01ABCDEFGHIJKLMN"), 0x10)
	want := "00000010: 49 4d 47 46 00 01 41 42  43 44 45 46 47 48 49 4a  |IMGF..ABCDEFGHIJ|\n" +
		"00000020: 4b 4c 4d 4e                                       |KLMN|\n"
	assert.Equal(t, want, buf.String())
}

func TestDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mgh")
	writeSample(t, path)

	out, err := run(t, "dump", "--length", "4", path)
	require.NoError(t, err)
	assert.Contains(t, out, "00000000: 00 00 00 01")

	_, err = run(t, "dump", "--offset", "100000", path)
	require.Error(t, err)
}

func TestInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mgh")
	writeSample(t, path)

	out, err := run(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "format:      mgh")
	assert.Contains(t, out, "dimensions:  3 x 3 x 2 x 1")
	assert.Contains(t, out, "TR 2500 ms")
	assert.Contains(t, out, "(default)")

	out, err = run(t, "info", "--voxel", "1,2,1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "voxel[1,2,1]: 16")

	_, err = run(t, "info", "--voxel", "1,2", path)
	require.Error(t, err)
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mgh")
	out := filepath.Join(dir, "out.mgz")
	v := writeSample(t, in)

	stdout, err := run(t, "--compression", "builtin", "convert", "--subject", "bert", in, out)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(stdout), "3x3x2x1 short"), stdout)

	got, err := volio.Read(out, volio.WithCompression(volio.CompressBuiltin))
	require.NoError(t, err)
	assert.Equal(t, []string{"volio convert " + in + " " + out}, got.Provenance())
	assert.Equal(t, v.At(7), got.At(7))

	_, err = run(t, "convert", in)
	require.Error(t, err)
	_, err = run(t, "--compression", "zstd", "convert", in, out)
	require.Error(t, err)
}

func TestFormats(t *testing.T) {
	out, err := run(t, "formats")
	require.NoError(t, err)
	for _, id := range []string{"genesis", "nifti1", "mgz", "analyze", "cor"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "(directory)")
}

func TestConfig(t *testing.T) {
	out, err := run(t, "--compression", "builtin", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: builtin")

	path := filepath.Join(t.TempDir(), "sub", "volio.yaml")
	_, err = run(t, "--compression", "builtin", "config", path)
	require.NoError(t, err)

	cfg, err := volio.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "builtin", cfg.Compression.Mode)

	out, err = run(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: builtin")
}
