package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectName(t *testing.T) {
	for _, name := range []string{"P1-Wedding", "interviews_2025", "a.b-c"} {
		got, err := ValidateProjectName(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, got)
	}

	for _, name := range []string{"", "a/b", "a\\b", "..", "x..y", "white space"} {
		_, err := ValidateProjectName(name)
		assert.Error(t, err, "expected rejection of %q", name)
	}
}

func TestValidateFilename_RejectsInsteadOfSanitizing(t *testing.T) {
	got, err := ValidateFilename("clip_001.mp4")
	require.NoError(t, err)
	assert.Equal(t, "clip_001.mp4", got)

	for _, name := range []string{"", ".", "a/b.mp4", "a\\b.mp4", "../escape.mp4", "oops..mp4"} {
		_, err := ValidateFilename(name)
		assert.Error(t, err, "expected rejection of %q", name)
	}
}

func TestValidateRelativePath(t *testing.T) {
	got, err := ValidateRelativePath("ingest/originals/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "ingest/originals/clip.mp4", got)

	// cleaning is fine as long as the result stays inside the project
	got, err = ValidateRelativePath("ingest//originals/./clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "ingest/originals/clip.mp4", got)

	for _, rel := range []string{"", "/abs/path.mp4", "../outside.mp4", "a/../../b.mp4", "."} {
		_, err := ValidateRelativePath(rel)
		assert.Error(t, err, "expected rejection of %q", rel)
	}
}

func TestWithinRoot(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "projects")
	assert.True(t, WithinRoot(root, root))
	assert.True(t, WithinRoot(root, filepath.Join(root, "p1", "clip.mp4")))
	assert.False(t, WithinRoot(root, filepath.Join(string(filepath.Separator), "data", "projects-other")))
	assert.False(t, WithinRoot(root, filepath.Join(string(filepath.Separator), "data")))
}

func TestAbsoluteMediaPath_BlocksTraversal(t *testing.T) {
	p := NewProject("p1", "primary", t.TempDir())

	abs, err := p.AbsoluteMediaPath("ingest/originals/clip.mp4")
	require.NoError(t, err)
	assert.True(t, WithinRoot(p.Root, abs))

	_, err = p.AbsoluteMediaPath("../sibling/clip.mp4")
	assert.Error(t, err)
}

func TestSequencedProjectName(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "P1-Wedding", SequencedProjectName(root, "Wedding"))

	require.NoError(t, os.Mkdir(filepath.Join(root, "P1-Wedding"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "P7-Interviews"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "not-sequenced"), 0755))

	assert.Equal(t, "P8-Promo", SequencedProjectName(root, "Promo"))
	assert.Equal(t, "P8", SequencedProjectName(root, ""))
}
