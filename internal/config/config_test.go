package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/volio/internal/pipe"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Sequence.Start)
	assert.True(t, cfg.Read.Sanitize)
	assert.Equal(t, pipe.Config{Mode: pipe.External, Program: "gzip", Level: 6}, cfg.Pipe())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "volio.yaml")
	cfg := DefaultConfig()
	cfg.Compression.Mode = "builtin"
	cfg.Compression.Level = 9
	cfg.Sequence.Start = 0

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, pipe.Builtin, loaded.Pipe().Mode)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression:\n  mode: builtin\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "builtin", cfg.Compression.Mode)
	assert.Equal(t, 6, cfg.Compression.Level)
	assert.Equal(t, 1, cfg.Sequence.Start)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":  "compression: [",
		"bad mode":  "compression:\n  mode: zstd\n",
		"bad level": "compression:\n  level: 12\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sequence:\n  start: 5\n"), 0o644))

	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvSequenceStart, "")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sequence.Start)

	t.Setenv(EnvSequenceStart, "0")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Sequence.Start)

	t.Setenv(EnvSequenceStart, "first")
	_, err = FromEnv()
	require.Error(t, err)
}
