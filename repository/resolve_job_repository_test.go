package repository

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/models"
)

func newJobRepo(t *testing.T) *ResolveJobRepository {
	t.Helper()
	db, err := database.InitBridgeDB(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	return NewResolveJobRepository(db)
}

func newJob(t *testing.T, repo *ResolveJobRepository, createdAt int64) *models.ResolveJob {
	t.Helper()
	job := &models.ResolveJob{
		ID:        uuid.New().String(),
		Project:   "p1",
		Source:    "primary",
		Mode:      models.ResolveModeImport,
		CreatedAt: createdAt,
	}
	require.NoError(t, job.SetMediaPaths([]string{"ingest/originals/clip.mp4"}))
	require.NoError(t, repo.Create(job))
	return job
}

func TestCreate_DefaultsToPending(t *testing.T) {
	repo := newJobRepo(t)
	job := newJob(t, repo, 0)

	loaded, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveJobPending, loaded.Status)
	assert.NotZero(t, loaded.CreatedAt)
	assert.False(t, loaded.IsTerminal())

	paths, err := loaded.MediaPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest/originals/clip.mp4"}, paths)
}

func TestClaimNext_OldestFirstAndExclusive(t *testing.T) {
	repo := newJobRepo(t)
	older := newJob(t, repo, 100)
	newer := newJob(t, repo, 200)

	claimed, err := repo.ClaimNext(1, "agent-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, older.ID, claimed[0].ID)
	assert.Equal(t, models.ResolveJobClaimed, claimed[0].Status)
	require.NotNil(t, claimed[0].ClaimedBy)
	assert.Equal(t, "agent-a", *claimed[0].ClaimedBy)

	// the already-claimed job is never handed out again
	claimed, err = repo.ClaimNext(5, "agent-b")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, newer.ID, claimed[0].ID)

	claimed, err = repo.ClaimNext(5, "agent-c")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCompleteAndFailTransitions(t *testing.T) {
	repo := newJobRepo(t)
	job := newJob(t, repo, 0)

	// completing a pending job is an invalid transition
	assert.ErrorIs(t, repo.Complete(job.ID), ErrInvalidJobState)

	claimed, err := repo.ClaimNext(1, "agent-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.Complete(job.ID))
	loaded, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveJobCompleted, loaded.Status)
	assert.NotNil(t, loaded.DoneAt)
	assert.True(t, loaded.IsTerminal())

	// terminal jobs reject further transitions
	assert.ErrorIs(t, repo.Complete(job.ID), ErrInvalidJobState)
	assert.ErrorIs(t, repo.Fail(job.ID, "late failure"), ErrInvalidJobState)
}

func TestFail_StoresReason(t *testing.T) {
	repo := newJobRepo(t)
	job := newJob(t, repo, 0)

	_, err := repo.ClaimNext(1, "agent-a")
	require.NoError(t, err)

	require.NoError(t, repo.Fail(job.ID, "media path missing on agent"))
	loaded, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolveJobFailed, loaded.Status)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, "media path missing on agent", *loaded.Error)
	assert.NotNil(t, loaded.FailedAt)
}

func TestTransitions_UnknownJob(t *testing.T) {
	repo := newJobRepo(t)
	assert.ErrorIs(t, repo.Complete("no-such-job"), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.Fail("no-such-job", "x"), gorm.ErrRecordNotFound)

	_, err := repo.GetByID("no-such-job")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListByStatus(t *testing.T) {
	repo := newJobRepo(t)
	newJob(t, repo, 100)
	newJob(t, repo, 200)

	pending, err := repo.ListByStatus(models.ResolveJobPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.LessOrEqual(t, pending[0].CreatedAt, pending[1].CreatedAt)

	claimed, err := repo.ListByStatus(models.ResolveJobClaimed)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
