package writer

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/pipe"
)

func TestNewFileWriter(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name          string
		filename      string
		mode          CreateMode
		wantErr       bool
		setupExisting bool
	}{
		{name: "create new file truncate mode", filename: "a.mgh", mode: ModeTruncate},
		{name: "create new file exclusive mode", filename: "b.mgh", mode: ModeExclusive},
		{name: "truncate existing file", filename: "c.mgh", mode: ModeTruncate, setupExisting: true},
		{name: "exclusive mode fails on existing", filename: "d.mgh", mode: ModeExclusive, setupExisting: true, wantErr: true},
		{name: "invalid mode", filename: "e.mgh", mode: CreateMode(7), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.filename)
			if tt.setupExisting {
				require.NoError(t, os.WriteFile(path, []byte("existing content"), 0o644))
			}

			w, err := NewFileWriter(path, tt.mode, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, w)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, w.Offset())
			assert.False(t, w.Compressed())
			require.NoError(t, w.Close())

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Zero(t, info.Size())
		})
	}
}

func TestWriteAndPad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdr.bin")
	w, err := NewFileWriter(path, ModeTruncate, nil)
	require.NoError(t, err)

	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, w.PadTo(8))
	assert.Equal(t, int64(8), w.Offset())
	require.Error(t, w.PadTo(4))

	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, data)

	_, err = w.Write([]byte{1})
	require.Error(t, err)
}

func TestWriteVoxelsCompressed(t *testing.T) {
	v, err := core.NewVolume(3, 2, 4, 1, core.Short)
	require.NoError(t, err)
	for i := 0; i < v.NumVoxels(); i++ {
		v.SetAt(i, float64(i-10))
	}

	cfg := pipe.Config{Mode: pipe.Builtin}
	path := filepath.Join(t.TempDir(), "vol.mgz")
	w, err := NewFileWriter(path, ModeTruncate, &cfg)
	require.NoError(t, err)
	assert.True(t, w.Compressed())

	require.NoError(t, w.WriteVoxels(v, 0, v.NumVoxels(), core.StoreInt16, binary.BigEndian))
	assert.Equal(t, int64(v.NumVoxels()*2), w.Offset())

	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := pipe.OpenReader(path, cfg)
	require.NoError(t, err)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	back := v.CopyHeader()
	require.NoError(t, back.DecodeRaw(raw, core.StoreInt16, binary.BigEndian, core.Scale{}, 0))
	assert.Equal(t, v.Shorts(), back.Shorts())
}

func TestAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.img")
	w, err := NewFileWriter(path, ModeTruncate, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	cause := os.ErrInvalid
	err = w.Abort(cause)
	require.ErrorIs(t, err, os.ErrInvalid)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
