package repository

import (
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/models"
)

// ErrInvalidJobState is returned when a transition is requested on a job that
// is not in the required state (e.g. complete on a pending or terminal job).
var ErrInvalidJobState = errors.New("resolve job is not in a state allowing this transition")

// ResolveJobRepository handles database operations for ResolveJob entities
// in the bridge database.
type ResolveJobRepository struct {
	DB *gorm.DB
}

// NewResolveJobRepository creates a new instance of ResolveJobRepository
func NewResolveJobRepository(db *gorm.DB) *ResolveJobRepository {
	return &ResolveJobRepository{DB: db}
}

// Create inserts a new pending job
func (r *ResolveJobRepository) Create(job *models.ResolveJob) error {
	if job.CreatedAt == 0 {
		job.CreatedAt = time.Now().Unix()
	}
	if job.Status == "" {
		job.Status = models.ResolveJobPending
	}
	if err := r.DB.Create(job).Error; err != nil {
		return fmt.Errorf("failed to create resolve job %s: %w", job.ID, err)
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *ResolveJobRepository) GetByID(id string) (*models.ResolveJob, error) {
	var job models.ResolveJob
	err := r.DB.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get resolve job %s: %w", id, err)
	}
	return &job, nil
}

// ClaimNext atomically transitions up to limit pending jobs to claimed,
// oldest first, stamping claimant identity and claim time. The transition is
// a conditional UPDATE keyed on the pending status, so two concurrently
// polling agents can never claim the same job: the statement that matched
// zero rows lost the race and the job is skipped.
func (r *ResolveJobRepository) ClaimNext(limit int, claimant string) ([]models.ResolveJob, error) {
	if limit <= 0 {
		limit = 1
	}

	var candidates []models.ResolveJob
	err := r.DB.Where("status = ?", models.ResolveJobPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending resolve jobs: %w", err)
	}

	now := time.Now().Unix()
	claimed := make([]models.ResolveJob, 0, len(candidates))
	for _, candidate := range candidates {
		sqlStr, args, err := psql.Update("resolve_jobs").
			Set("status", models.ResolveJobClaimed).
			Set("claimed_by", claimant).
			Set("claimed_at", now).
			Where(sq.Eq{"id": candidate.ID, "status": models.ResolveJobPending}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build claim statement for job %s: %w", candidate.ID, err)
		}

		result := r.DB.Exec(sqlStr, args...)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to claim resolve job %s: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// lost the race to another claimant
			continue
		}

		job := candidate
		job.Status = models.ResolveJobClaimed
		job.ClaimedBy = &claimant
		claimedAt := now
		job.ClaimedAt = &claimedAt
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete transitions a claimed job to completed. The call is rejected with
// ErrInvalidJobState if the job exists but is not currently claimed.
func (r *ResolveJobRepository) Complete(id string) error {
	now := time.Now().Unix()
	return r.transition(id, map[string]interface{}{
		"status":  models.ResolveJobCompleted,
		"done_at": now,
	})
}

// Fail transitions a claimed job to failed, storing the reported reason.
func (r *ResolveJobRepository) Fail(id, reason string) error {
	now := time.Now().Unix()
	return r.transition(id, map[string]interface{}{
		"status":    models.ResolveJobFailed,
		"error":     reason,
		"failed_at": now,
	})
}

func (r *ResolveJobRepository) transition(id string, updates map[string]interface{}) error {
	builder := psql.Update("resolve_jobs").
		Where(sq.Eq{"id": id, "status": models.ResolveJobClaimed})
	for column, value := range updates {
		builder = builder.Set(column, value)
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build transition statement for job %s: %w", id, err)
	}

	result := r.DB.Exec(sqlStr, args...)
	if result.Error != nil {
		return fmt.Errorf("failed to transition resolve job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		r.DB.Model(&models.ResolveJob{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return ErrInvalidJobState
	}
	return nil
}

// ListByStatus retrieves jobs in a given state, oldest first
func (r *ResolveJobRepository) ListByStatus(status string) ([]models.ResolveJob, error) {
	var jobs []models.ResolveJob
	err := r.DB.Where("status = ?", status).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list resolve jobs with status %s: %w", status, err)
	}
	return jobs, nil
}
