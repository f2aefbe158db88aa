package reindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/mediasyncd/config"
	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

func newTestProject(t *testing.T) storage.Project {
	t.Helper()
	project := storage.NewProject("p1", "primary", t.TempDir())
	require.NoError(t, os.MkdirAll(project.Root, 0755))
	require.NoError(t, project.EnsureLayout())
	_, err := storage.SeedIndex(project, "")
	require.NoError(t, err)
	return project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReindexProject_IndexesAndRelocates(t *testing.T) {
	project := newTestProject(t)
	rc := NewReconciler(database.NewProjectDBCache())

	writeFile(t, filepath.Join(project.OriginalsDir(), "clip1.mp4"), "clip one")
	writeFile(t, filepath.Join(project.Root, "stray.mp4"), "stray clip")
	writeFile(t, filepath.Join(project.Root, "notes.txt"), "not media")
	writeFile(t, filepath.Join(project.ThumbnailsDir(), "aaa.jpg"), "reserved, never indexed")

	result, err := rc.ReindexProject(project)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.HashedOrUpdated)
	assert.Equal(t, 1, result.Relocated)
	assert.Equal(t, 0, result.Removed)

	// the stray moved into canonical storage
	_, err = os.Stat(filepath.Join(project.OriginalsDir(), "stray.mp4"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(project.Root, "stray.mp4"))
	assert.True(t, os.IsNotExist(err))

	doc, err := storage.LoadIndex(project)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Counts.Videos)

	// new records get hash-keyed sidecars
	sidecars, err := os.ReadDir(project.MetadataDir())
	require.NoError(t, err)
	assert.Len(t, sidecars, 2)

	events, err := storage.ReadEvents(project)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, storage.EventReindexCompleted, events[len(events)-1].Event)
}

func TestReindexProject_RelocatedStrayCountedOnce(t *testing.T) {
	project := newTestProject(t)
	rc := NewReconciler(database.NewProjectDBCache())

	// "aaa" sorts before "ingest", so the walker reaches the relocated
	// destination after the move and must not account for the file twice
	writeFile(t, filepath.Join(project.Root, "aaa", "clip.mp4"), "stray clip")

	result, err := rc.ReindexProject(project)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Relocated)
	assert.Equal(t, 1, result.HashedOrUpdated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Removed)

	_, err = os.Stat(filepath.Join(project.OriginalsDir(), "clip.mp4"))
	assert.NoError(t, err)

	doc, err := storage.LoadIndex(project)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Counts.Videos)
}

func TestReindexProject_SecondPassSkipsUnchanged(t *testing.T) {
	project := newTestProject(t)
	rc := NewReconciler(database.NewProjectDBCache())

	writeFile(t, filepath.Join(project.OriginalsDir(), "clip1.mp4"), "clip one")
	writeFile(t, filepath.Join(project.OriginalsDir(), "clip2.mp4"), "clip two")

	_, err := rc.ReindexProject(project)
	require.NoError(t, err)

	result, err := rc.ReindexProject(project)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.HashedOrUpdated)
}

func TestReindexProject_PrunesMissingFiles(t *testing.T) {
	project := newTestProject(t)
	rc := NewReconciler(database.NewProjectDBCache())

	writeFile(t, filepath.Join(project.OriginalsDir(), "clip1.mp4"), "clip one")
	writeFile(t, filepath.Join(project.OriginalsDir(), "clip2.mp4"), "clip two")
	_, err := rc.ReindexProject(project)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(project.OriginalsDir(), "clip2.mp4")))

	result, err := rc.ReindexProject(project)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	doc, err := storage.LoadIndex(project)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Counts.Videos)
	assert.Equal(t, int64(1), doc.Counts.RemovedMissingRecords)
}

func TestReindexProject_ContentChangeOnSamePath(t *testing.T) {
	project := newTestProject(t)
	rc := NewReconciler(database.NewProjectDBCache())

	target := filepath.Join(project.OriginalsDir(), "clip1.mp4")
	writeFile(t, target, "first cut")
	_, err := rc.ReindexProject(project)
	require.NoError(t, err)

	// a replacement with different size defeats the staleness shortcut
	writeFile(t, target, "a noticeably longer second cut")

	result, err := rc.ReindexProject(project)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HashedOrUpdated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Removed)
}

func TestSweepAll_SkipsInvalidAndReservedDirs(t *testing.T) {
	root := t.TempDir()
	cfg := config.Config{ProjectsRoot: root, SourcesParentRoot: t.TempDir()}
	registry := sources.NewRegistry(cfg)
	rc := NewReconciler(database.NewProjectDBCache())

	for _, name := range []string{"p1", "_sources", ".hidden", "bad name"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0755))
	}
	writeFile(t, filepath.Join(root, "p1", "ingest", "originals", "clip.mp4"), "clip")

	sweep, err := rc.SweepAll(registry)
	require.NoError(t, err)
	require.Len(t, sweep.Projects, 1)
	assert.Equal(t, "p1", sweep.Projects[0].Project)
	assert.Equal(t, 1, sweep.Totals.Scanned)
	assert.Equal(t, 1, sweep.Totals.HashedOrUpdated)
}
