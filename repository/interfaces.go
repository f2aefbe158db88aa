package repository

import (
	"github.com/camden-git/mediasyncd/models"
)

// MediaRepositoryInterface defines the methods for the per-project dedupe
// index. Insert is the ingest path and is guarded against duplicate hashes
// at the storage layer; UpsertByPath is the reconciliation path and is not.
type MediaRepositoryInterface interface {
	Insert(record *models.MediaRecord) error
	GetByHash(sha256 string) (*models.MediaRecord, error)
	GetByPath(relativePath string) (*models.MediaRecord, error)
	UpsertByPath(relativePath, sha256 string, sizeBytes, modTime, firstSeenAt int64) error
	DeleteByPath(relativePath string) error
	DeleteMissing(existingPaths []string) (int64, error)
	ListAll() ([]models.MediaRecord, error)
	Count() (int64, error)
}

// TagRepositoryInterface defines the methods for the shared tag store.
// Assets are addressed by the stable id from AssetID, never by manifest row.
type TagRepositoryInterface interface {
	ListTags(q string, limit int) ([]models.TagMeta, error)
	UpsertTagMeta(tag, color, description string) (*models.TagMeta, error)
	GetAssetTags(assetID string) ([]string, error)
	AddAssetTags(assetID string, tags []string, origin string) ([]string, error)
	RemoveAssetTags(assetID string, tags []string) ([]string, error)
	BatchGetAssetTags(assetIDs []string) (map[string][]string, error)
	CountAssetTagsByOrigin(assetID string) (map[string]int64, error)
}

// ResolveJobRepositoryInterface defines the methods for the resolve bridge
// job queue.
type ResolveJobRepositoryInterface interface {
	Create(job *models.ResolveJob) error
	GetByID(id string) (*models.ResolveJob, error)
	ClaimNext(limit int, claimant string) ([]models.ResolveJob, error)
	Complete(id string) error
	Fail(id, reason string) error
	ListByStatus(status string) ([]models.ResolveJob, error)
}
