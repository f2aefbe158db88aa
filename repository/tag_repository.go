package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/models"
)

var (
	tagWhitespace = regexp.MustCompile(`\s+`)
	tagDisallowed = regexp.MustCompile(`[^a-z0-9._:-]+`)
)

// NormalizeTag lowercases a tag, collapses whitespace runs to hyphens, and
// strips everything outside the allowed character set. An empty result means
// the input was not a usable tag.
func NormalizeTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = tagWhitespace.ReplaceAllString(t, "-")
	return tagDisallowed.ReplaceAllString(t, "")
}

// AssetID derives the stable tag-store key for a file: a hash over the source
// name and the project-qualified relative path. Tags keyed this way survive
// manifest rebuilds because they never reference database row ids.
func AssetID(source, project, relativePath string) string {
	rel := path.Join(project, relativePath)
	sum := sha256.Sum256([]byte(source + ":" + rel))
	return hex.EncodeToString(sum[:])
}

// TagRepository handles database operations for asset tags and tag metadata
// in the shared tag database.
type TagRepository struct {
	DB *gorm.DB
}

// NewTagRepository creates a new instance of TagRepository
func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{DB: db}
}

// ListTags returns tag metadata ordered by tag, optionally filtered by a
// normalized substring match.
func (r *TagRepository) ListTags(q string, limit int) ([]models.TagMeta, error) {
	if limit <= 0 {
		limit = 200
	}
	query := r.DB.Model(&models.TagMeta{}).Order("tag ASC").Limit(limit)
	if qn := NormalizeTag(q); qn != "" {
		query = query.Where("tag LIKE ?", "%"+qn+"%")
	}
	var metas []models.TagMeta
	if err := query.Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return metas, nil
}

// UpsertTagMeta sets display attributes for a tag, creating the meta row if
// needed. Empty color or description leave the stored value untouched, so a
// client can patch one attribute without clobbering the other.
func (r *TagRepository) UpsertTagMeta(tag, color, description string) (*models.TagMeta, error) {
	t := NormalizeTag(tag)
	if t == "" {
		return nil, fmt.Errorf("tag cannot be empty")
	}
	now := time.Now().Unix()

	sqlStr, args, err := psql.Insert("tag_meta").
		Columns("tag", "color", "description", "created_at", "updated_at").
		Values(t, color, description, now, now).
		Suffix("ON CONFLICT(tag) DO UPDATE SET").
		Suffix("color = COALESCE(NULLIF(excluded.color, ''), tag_meta.color),").
		Suffix("description = COALESCE(NULLIF(excluded.description, ''), tag_meta.description),").
		Suffix("updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tag meta upsert for %s: %w", t, err)
	}
	if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert tag meta for %s: %w", t, err)
	}

	var meta models.TagMeta
	if err := r.DB.Where("tag = ?", t).First(&meta).Error; err != nil {
		return nil, fmt.Errorf("failed to reload tag meta for %s: %w", t, err)
	}
	return &meta, nil
}

// GetAssetTags returns the asset's tags sorted alphabetically. An untagged
// asset yields an empty slice, never an error.
func (r *TagRepository) GetAssetTags(assetID string) ([]string, error) {
	var tags []string
	err := r.DB.Model(&models.AssetTag{}).
		Where("asset_id = ?", assetID).
		Order("tag ASC").
		Pluck("tag", &tags).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get tags for asset %s: %w", assetID, err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// AddAssetTags applies tags to an asset, normalizing each and silently
// dropping empties. Re-applying an existing tag is a no-op. Every applied tag
// also gets a meta row so it shows up in ListTags.
func (r *TagRepository) AddAssetTags(assetID string, tags []string, origin string) ([]string, error) {
	if origin == "" {
		origin = models.TagOriginUser
	}
	now := time.Now().Unix()
	for _, tag := range tags {
		t := NormalizeTag(tag)
		if t == "" {
			continue
		}
		sqlStr, args, err := psql.Insert("asset_tags").
			Options("OR IGNORE").
			Columns("asset_id", "tag", "created_at", "origin").
			Values(assetID, t, now, origin).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build tag insert for %s: %w", t, err)
		}
		if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
			return nil, fmt.Errorf("failed to tag asset %s with %s: %w", assetID, t, err)
		}

		sqlStr, args, err = psql.Insert("tag_meta").
			Options("OR IGNORE").
			Columns("tag", "color", "description", "created_at", "updated_at").
			Values(t, "", "", now, now).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build tag meta insert for %s: %w", t, err)
		}
		if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
			return nil, fmt.Errorf("failed to record tag meta for %s: %w", t, err)
		}
	}
	return r.GetAssetTags(assetID)
}

// RemoveAssetTags drops the given tags from an asset and returns the
// remainder. Removing an absent tag is a no-op.
func (r *TagRepository) RemoveAssetTags(assetID string, tags []string) ([]string, error) {
	norm := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := NormalizeTag(tag); t != "" {
			norm = append(norm, t)
		}
	}
	if len(norm) > 0 {
		sqlStr, args, err := psql.Delete("asset_tags").
			Where(sq.Eq{"asset_id": assetID, "tag": norm}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build tag delete for asset %s: %w", assetID, err)
		}
		if err := r.DB.Exec(sqlStr, args...).Error; err != nil {
			return nil, fmt.Errorf("failed to remove tags from asset %s: %w", assetID, err)
		}
	}
	return r.GetAssetTags(assetID)
}

// BatchGetAssetTags resolves tags for many assets in one query. Every
// requested id appears in the result, untagged ones with an empty slice.
func (r *TagRepository) BatchGetAssetTags(assetIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(assetIDs))
	for _, id := range assetIDs {
		out[id] = []string{}
	}
	if len(assetIDs) == 0 {
		return out, nil
	}

	var rows []models.AssetTag
	err := r.DB.Where("asset_id IN ?", assetIDs).
		Order("asset_id ASC, tag ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to batch get asset tags: %w", err)
	}
	for _, row := range rows {
		out[row.AssetID] = append(out[row.AssetID], row.Tag)
	}
	return out, nil
}

// CountAssetTagsByOrigin groups an asset's tag count by origin, so a client
// can show user tags and automatic tags separately.
func (r *TagRepository) CountAssetTagsByOrigin(assetID string) (map[string]int64, error) {
	var rows []struct {
		Origin string
		Count  int64
	}
	err := r.DB.Model(&models.AssetTag{}).
		Select("origin, COUNT(*) as count").
		Where("asset_id = ?", assetID).
		Group("origin").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count tags for asset %s: %w", assetID, err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Origin] = row.Count
	}
	return counts, nil
}

// NormalizeTags normalizes a tag list, dropping empties and duplicates. The
// result is sorted for stable responses.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := NormalizeTag(tag)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
