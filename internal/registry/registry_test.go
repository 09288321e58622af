package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/utils"
)

type readOnlyCodec struct{}

func (readOnlyCodec) ReadHeader(*Env) (*Header, error) { return nil, nil }

func (readOnlyCodec) ReadPayload(*Env, *Header, *FrameRange) (bool, error) { return false, nil }

type readWriteCodec struct{ readOnlyCodec }

func (readWriteCodec) Write(*Env, *core.Volume) error { return nil }

func testRegistry() *Registry {
	return New().MustRegister(
		Descriptor{
			ID:           Genesis,
			Aliases:      []string{"ge"},
			MultiFile:    true,
			Capabilities: CapHeader | CapRead,
			Probe: func(in ProbeInput) bool {
				return !in.Gzipped && bytes.HasPrefix(in.Prefix, []byte("IMGF"))
			},
			Codec: readOnlyCodec{},
		},
		Descriptor{
			ID:           MGH,
			Extensions:   []string{".mgh"},
			Capabilities: CapHeader | CapRead | CapWrite,
			Probe: func(in ProbeInput) bool {
				return !in.Gzipped && bytes.HasPrefix(in.Prefix, []byte{0, 0, 0, 1})
			},
			Codec: readWriteCodec{},
		},
		Descriptor{
			ID:                   MGZ,
			CompressedExtensions: []string{".mgz", ".mgh.gz"},
			Capabilities:         CapHeader | CapRead | CapWrite,
			Probe: func(in ProbeInput) bool {
				return in.Gzipped && bytes.HasPrefix(in.Prefix, []byte{0, 0, 0, 1})
			},
			Codec: readWriteCodec{},
		},
		Descriptor{
			ID:           COR,
			Capabilities: CapHeader | CapRead | CapWrite,
			MultiFile:    true,
			Probe: func(in ProbeInput) bool {
				if !in.IsDir {
					return false
				}
				_, err := os.Stat(filepath.Join(in.Path, "COR-.info"))
				return err == nil
			},
			Codec: readWriteCodec{},
		},
		Descriptor{
			ID:           Analyze,
			Extensions:   []string{".img", ".hdr"},
			Capabilities: CapHeader | CapRead | CapWrite,
			Codec:        readWriteCodec{},
		},
	)
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := testRegistry()
	err := r.Register(Descriptor{ID: "other", Aliases: []string{"GE"}, Capabilities: CapRead, Codec: readOnlyCodec{}})
	require.Error(t, err)

	err = r.Register(Descriptor{ID: "w", Capabilities: CapRead | CapWrite, Codec: readOnlyCodec{}})
	require.Error(t, err)

	err = r.Register(Descriptor{ID: "nocodec"})
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	r := testRegistry()
	d, ok := r.Lookup("GE")
	require.True(t, ok)
	assert.Equal(t, Genesis, d.ID)

	_, ok = r.Lookup("dicom")
	assert.False(t, ok)

	assert.Equal(t, []FormatID{Genesis, MGH, MGZ, COR, Analyze}, r.IDs())
}

func TestClassify(t *testing.T) {
	r := testRegistry()
	dir := t.TempDir()

	mghHeader := []byte{0, 0, 0, 1, 0, 0, 0, 2}

	corDir := filepath.Join(dir, "subject", "orig")
	require.NoError(t, os.MkdirAll(corDir, 0o755))
	writeFile(t, filepath.Join(corDir, "COR-.info"), []byte("imnr0 1\n"))

	tests := []struct {
		name     string
		path     string
		override string
		want     FormatID
		wantErr  error
	}{
		{
			name: "mgz by extension regardless of content",
			path: writeFile(t, filepath.Join(dir, "vol.mgz"), []byte("this is not gzip")),
			want: MGZ,
		},
		{
			name: "double extension",
			path: writeFile(t, filepath.Join(dir, "vol.MGH.GZ"), []byte("x")),
			want: MGZ,
		},
		{
			name: "extensionless magic",
			path: writeFile(t, filepath.Join(dir, "I"), append([]byte("IMGF"), make([]byte, 200)...)),
			want: Genesis,
		},
		{
			name: "content beats misleading extension",
			path: writeFile(t, filepath.Join(dir, "slice.img"), append([]byte("IMGF"), make([]byte, 16)...)),
			want: Genesis,
		},
		{
			name: "gzip content without extension",
			path: writeFile(t, filepath.Join(dir, "brain"), gzipBytes(t, mghHeader)),
			want: MGZ,
		},
		{
			name: "plain content",
			path: writeFile(t, filepath.Join(dir, "brain.raw"), mghHeader),
			want: MGH,
		},
		{
			name: "directory probe",
			path: corDir,
			want: COR,
		},
		{
			name: "extension fallback",
			path: writeFile(t, filepath.Join(dir, "x.hdr"), make([]byte, 40)),
			want: Analyze,
		},
		{
			name: "missing file by extension",
			path: filepath.Join(dir, "absent.mgh"),
			want: MGH,
		},
		{
			name:     "override",
			path:     filepath.Join(dir, "vol.mgz"),
			override: "ge",
			want:     Genesis,
		},
		{
			name:     "unknown override",
			path:     filepath.Join(dir, "vol.mgz"),
			override: "dicom",
			wantErr:  utils.ErrUnknownFormat,
		},
		{
			name:    "unknown",
			path:    writeFile(t, filepath.Join(dir, "notes.txt"), []byte("hello")),
			wantErr: utils.ErrUnknownFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Classify(tt.path, tt.override)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.ID)
		})
	}
}

func TestClassifyForWrite(t *testing.T) {
	r := testRegistry()

	d, err := r.ClassifyForWrite("/tmp/out.mgz", "")
	require.NoError(t, err)
	assert.Equal(t, MGZ, d.ID)

	_, err = r.ClassifyForWrite("/tmp/I.001", "genesis")
	require.ErrorIs(t, err, utils.ErrUnknownFormat)

	_, err = r.ClassifyForWrite("/tmp/out.xyz", "")
	require.ErrorIs(t, err, utils.ErrUnknownFormat)
}

func TestParsePath(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		raw     string
		path    string
		typ     string
		frames  *FrameRange
		wantErr bool
	}{
		{raw: "vol.mgz", path: "vol.mgz"},
		{raw: "vol.mgz#3", path: "vol.mgz", frames: &FrameRange{3, 3}},
		{raw: "vol.mgz#2:4", path: "vol.mgz", frames: &FrameRange{2, 4}},
		{raw: "I.001@genesis", path: "I.001", typ: "genesis"},
		{raw: "raw.bin@mgh#0:1", path: "raw.bin", typ: "mgh", frames: &FrameRange{0, 1}},
		{raw: "raw.bin#0:1@mgh", path: "raw.bin", typ: "mgh", frames: &FrameRange{0, 1}},
		{raw: "user@host/vol.mgz", path: "user@host/vol.mgz"},
		{raw: "vol.mgz@nosuch", path: "vol.mgz@nosuch"},
		{raw: "vol.mgz#4:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := r.ParsePath(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, utils.ErrFrameRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path, got.Path)
			assert.Equal(t, tt.typ, got.Type)
			assert.Equal(t, tt.frames, got.Frames)
		})
	}
}

func TestTargetString(t *testing.T) {
	r := testRegistry()
	got, err := r.ParsePath("raw.bin@mgh#0:1")
	require.NoError(t, err)
	assert.Equal(t, "raw.bin#0:1@mgh", got.String())
}

func TestFrameRangeCheck(t *testing.T) {
	require.NoError(t, FrameRange{2, 2}.Check(5))
	require.ErrorIs(t, FrameRange{5, 5}.Check(5), utils.ErrFrameRange)
	require.ErrorIs(t, FrameRange{1, 5}.Check(5), utils.ErrFrameRange)
	assert.Equal(t, 3, FrameRange{2, 4}.Count())
}

func TestAppendType(t *testing.T) {
	r := testRegistry()
	got, err := r.ParsePath(AppendType("slice#2", Genesis))
	require.NoError(t, err)
	assert.Equal(t, "genesis", got.Type)
	assert.Equal(t, "slice", got.Path)
	assert.Equal(t, &FrameRange{Start: 2, End: 2}, got.Frames)
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "header,read,write", (CapHeader | CapRead | CapWrite).String())
	assert.Equal(t, "none", Capability(0).String())
}
