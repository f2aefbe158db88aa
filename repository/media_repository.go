package repository

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// ErrHashExists is returned by Insert when the content hash is already
// recorded in the project. Callers treat this as "duplicate detected", a
// normal outcome, not a failure.
var ErrHashExists = errors.New("content hash already recorded")

// MediaRepository handles database operations for MediaRecord entities in a
// single project's manifest database.
type MediaRepository struct {
	DB *gorm.DB
}

// NewMediaRepository creates a new instance of MediaRepository
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{DB: db}
}

// Insert records a newly ingested file. The insert only succeeds if no row
// with the same sha256 exists; the check and the insert are one statement so
// two racing ingests that both passed a lookup cannot both insert. The loser
// gets ErrHashExists.
func (r *MediaRepository) Insert(record *models.MediaRecord) error {
	guard := sq.Select().
		Column(sq.Expr("?", record.Sha256)).
		Column(sq.Expr("?", record.RelativePath)).
		Column(sq.Expr("?", record.SizeBytes)).
		Column(sq.Expr("?", record.ModTime)).
		Column(sq.Expr("?", record.FirstSeenAt)).
		Where(sq.Expr("NOT EXISTS (SELECT 1 FROM media_records WHERE sha256 = ?)", record.Sha256))

	sqlStr, args, err := psql.Insert("media_records").
		Columns("sha256", "relative_path", "size_bytes", "mod_time", "first_seen_at").
		Select(guard).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build guarded insert for %s: %w", record.RelativePath, err)
	}

	result := r.DB.Exec(sqlStr, args...)
	if result.Error != nil {
		return fmt.Errorf("failed to insert media record for %s: %w", record.RelativePath, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrHashExists
	}
	return nil
}

// GetByHash retrieves a record by content hash
func (r *MediaRepository) GetByHash(sha256 string) (*models.MediaRecord, error) {
	var record models.MediaRecord
	err := r.DB.Where("sha256 = ?", sha256).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get media record by hash %s: %w", sha256, err)
	}
	return &record, nil
}

// GetByPath retrieves a record by relative path
func (r *MediaRepository) GetByPath(relativePath string) (*models.MediaRecord, error) {
	var record models.MediaRecord
	err := r.DB.Where("relative_path = ?", relativePath).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get media record by path %s: %w", relativePath, err)
	}
	return &record, nil
}

// UpsertByPath refreshes a path's hash, size and mtime, inserting the row if
// the path is new. first_seen_at is kept from the existing row on conflict.
// Used only by reconciliation; it does not enforce hash uniqueness, so a
// manual copy of an already-indexed file can transiently leave two paths
// sharing one hash until the copy is pruned or relocated.
func (r *MediaRepository) UpsertByPath(relativePath, sha256 string, sizeBytes, modTime, firstSeenAt int64) error {
	sqlStr, args, err := psql.Insert("media_records").
		Columns("sha256", "relative_path", "size_bytes", "mod_time", "first_seen_at").
		Values(sha256, relativePath, sizeBytes, modTime, firstSeenAt).
		Suffix("ON CONFLICT(relative_path) DO UPDATE SET").
		Suffix("sha256 = excluded.sha256,").
		Suffix("size_bytes = excluded.size_bytes,").
		Suffix("mod_time = excluded.mod_time").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert for %s: %w", relativePath, err)
	}

	if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
		return fmt.Errorf("failed to upsert media record for %s: %w", relativePath, err)
	}
	return nil
}

// DeleteByPath removes the record for a single relative path. A missing row
// is reported as gorm.ErrRecordNotFound.
func (r *MediaRepository) DeleteByPath(relativePath string) error {
	sqlStr, args, err := psql.Delete("media_records").
		Where(sq.Eq{"relative_path": relativePath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete statement for %s: %w", relativePath, err)
	}

	result := r.DB.Exec(sqlStr, args...)
	if result.Error != nil {
		return fmt.Errorf("failed to delete media record for %s: %w", relativePath, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteMissing removes every record whose relative path is absent from
// existingPaths and returns the number of pruned rows. An empty set prunes
// everything.
func (r *MediaRepository) DeleteMissing(existingPaths []string) (int64, error) {
	builder := psql.Delete("media_records")
	if len(existingPaths) > 0 {
		builder = builder.Where(sq.NotEq{"relative_path": existingPaths})
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete-missing statement: %w", err)
	}

	result := r.DB.Exec(sqlStr, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune missing media records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListAll retrieves every record ordered by relative path
func (r *MediaRepository) ListAll() ([]models.MediaRecord, error) {
	var records []models.MediaRecord
	err := r.DB.Order("relative_path ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list media records: %w", err)
	}
	return records, nil
}

// Count returns the number of indexed media records. IndexDocument's video
// count is always derived from this, never tracked independently.
func (r *MediaRepository) Count() (int64, error) {
	var count int64
	err := r.DB.Model(&models.MediaRecord{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count media records: %w", err)
	}
	return count, nil
}
