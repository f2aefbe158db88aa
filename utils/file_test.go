package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueDestination(t *testing.T) {
	dir := t.TempDir()
	sha := "0123456789abcdef0123456789abcdef"

	// empty dir: the plain name wins
	dest := UniqueDestination(dir, "clip.mp4", sha)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), dest)

	// occupied: short-hash disambiguator
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("a"), 0644))
	dest = UniqueDestination(dir, "clip.mp4", sha)
	assert.Equal(t, filepath.Join(dir, "clip_01234567.mp4"), dest)

	// that occupied too: numeric suffix
	require.NoError(t, os.WriteFile(dest, []byte("b"), 0644))
	dest = UniqueDestination(dir, "clip.mp4", sha)
	assert.Equal(t, filepath.Join(dir, "clip_01234567_1.mp4"), dest)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "sub", "dst.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, MoveFile(src, dst))

	moved, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), moved)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteSidecar(t *testing.T) {
	dir := t.TempDir()
	sidecar := &Sidecar{
		RelativePath: "ingest/originals/clip.mp4",
		Sha256:       "abc123",
		Source:       "primary",
		Method:       "upload",
		IngestedAt:   1700000000,
	}
	require.NoError(t, WriteSidecar(dir, sidecar))

	data, err := os.ReadFile(filepath.Join(dir, "abc123.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"relative_path": "ingest/originals/clip.mp4"`)
	assert.Contains(t, string(data), `"method": "upload"`)
}
