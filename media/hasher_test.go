package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToScratch(t *testing.T) {
	scratchDir := t.TempDir()
	payload := []byte("some media bytes that stand in for a clip")
	want := sha256.Sum256(payload)

	hr, err := HashToScratch(bytes.NewReader(payload), scratchDir, 0)
	require.NoError(t, err)
	defer hr.Discard()

	assert.Equal(t, hex.EncodeToString(want[:]), hr.Sha256Hex)
	assert.Equal(t, int64(len(payload)), hr.SizeBytes)

	spooled, err := os.ReadFile(hr.ScratchPath)
	require.NoError(t, err)
	assert.Equal(t, payload, spooled)
}

func TestHashToScratch_EnforcesCeiling(t *testing.T) {
	scratchDir := t.TempDir()
	payload := strings.Repeat("x", 2048)

	_, err := HashToScratch(strings.NewReader(payload), scratchDir, 1024)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	// the partial spool must already be gone
	entries, err := os.ReadDir(scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHashResult_DiscardIsIdempotent(t *testing.T) {
	hr, err := HashToScratch(strings.NewReader("abc"), t.TempDir(), 0)
	require.NoError(t, err)

	hr.Discard()
	_, statErr := os.Stat(hr.ScratchPath)
	assert.True(t, os.IsNotExist(statErr))

	// second discard of the missing file must not panic or warn the caller
	hr.Discard()
}

func TestHashFile_MatchesHashToScratch(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("identical content hashed two ways")
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	hr, err := HashToScratch(bytes.NewReader(payload), dir, 0)
	require.NoError(t, err)
	defer hr.Discard()

	sha, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hr.Sha256Hex, sha)
	assert.Equal(t, hr.SizeBytes, size)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindVideo, KindOf("a/b/clip.MP4"))
	assert.Equal(t, KindImage, KindOf("photo.jpeg"))
	assert.Equal(t, KindAudio, KindOf("take1.flac"))
	assert.Equal(t, Kind(""), KindOf("notes.txt"))

	assert.True(t, IsRecognized("clip.mov"))
	assert.False(t, IsRecognized("clip.mov.part"))
}
