package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/models"
)

func newMediaRepo(t *testing.T) *MediaRepository {
	t.Helper()
	db, err := database.InitProjectDB(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	return NewMediaRepository(db)
}

func TestInsert_GuardsAgainstDuplicateHash(t *testing.T) {
	repo := newMediaRepo(t)

	first := &models.MediaRecord{
		Sha256:       "aaa111",
		RelativePath: "ingest/originals/clip.mp4",
		SizeBytes:    100,
		ModTime:      1700000000,
		FirstSeenAt:  1700000000,
	}
	require.NoError(t, repo.Insert(first))

	// same content under a different name must be refused in one statement
	second := &models.MediaRecord{
		Sha256:       "aaa111",
		RelativePath: "ingest/originals/clip_copy.mp4",
		SizeBytes:    100,
		ModTime:      1700000001,
		FirstSeenAt:  1700000001,
	}
	err := repo.Insert(second)
	require.ErrorIs(t, err, ErrHashExists)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetByHashAndPath(t *testing.T) {
	repo := newMediaRepo(t)
	require.NoError(t, repo.Insert(&models.MediaRecord{
		Sha256:       "bbb222",
		RelativePath: "ingest/originals/a.mp4",
		SizeBytes:    1,
		ModTime:      1,
		FirstSeenAt:  1,
	}))

	byHash, err := repo.GetByHash("bbb222")
	require.NoError(t, err)
	assert.Equal(t, "ingest/originals/a.mp4", byHash.RelativePath)

	byPath, err := repo.GetByPath("ingest/originals/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "bbb222", byPath.Sha256)

	_, err = repo.GetByHash("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.GetByPath("nowhere.mp4")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpsertByPath_PreservesFirstSeen(t *testing.T) {
	repo := newMediaRepo(t)
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "ccc333", 10, 1000, 500))

	// a content change on the same path keeps the original first_seen_at
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "ddd444", 20, 2000, 999))

	record, err := repo.GetByPath("ingest/originals/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "ddd444", record.Sha256)
	assert.Equal(t, int64(20), record.SizeBytes)
	assert.Equal(t, int64(2000), record.ModTime)
	assert.Equal(t, int64(500), record.FirstSeenAt)
}

func TestUpsertByPath_ToleratesSharedHash(t *testing.T) {
	repo := newMediaRepo(t)

	// a manual copy can leave two paths with one hash until reconciliation
	// settles; the reconciliation path must not refuse it
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "eee555", 10, 1000, 500))
	require.NoError(t, repo.UpsertByPath("ingest/originals/a_copy.mp4", "eee555", 10, 1001, 501))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteMissing(t *testing.T) {
	repo := newMediaRepo(t)
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "h1", 1, 1, 1))
	require.NoError(t, repo.UpsertByPath("ingest/originals/b.mp4", "h2", 1, 1, 1))
	require.NoError(t, repo.UpsertByPath("ingest/originals/c.mp4", "h3", 1, 1, 1))

	removed, err := repo.DeleteMissing([]string{"ingest/originals/a.mp4", "ingest/originals/c.mp4"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByPath("ingest/originals/b.mp4")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// an empty survivor set prunes everything
	removed, err = repo.DeleteMissing(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestDeleteByPath(t *testing.T) {
	repo := newMediaRepo(t)
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "h1", 1, 1, 1))

	require.NoError(t, repo.DeleteByPath("ingest/originals/a.mp4"))
	assert.ErrorIs(t, repo.DeleteByPath("ingest/originals/a.mp4"), gorm.ErrRecordNotFound)
}

func TestListAll_OrdersByPath(t *testing.T) {
	repo := newMediaRepo(t)
	require.NoError(t, repo.UpsertByPath("ingest/originals/b.mp4", "h2", 1, 1, 1))
	require.NoError(t, repo.UpsertByPath("ingest/originals/a.mp4", "h1", 1, 1, 1))

	records, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ingest/originals/a.mp4", records[0].RelativePath)
	assert.Equal(t, "ingest/originals/b.mp4", records[1].RelativePath)
}
