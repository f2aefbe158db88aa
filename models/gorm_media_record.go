package models

// MediaRecord is one deduplicated media file inside a project's manifest
// database. It corresponds to the 'media_records' table.
//
// RelativePath is unique: a path maps to exactly one record. Sha256 is
// deliberately NOT constrained unique at the schema level; ingest enforces
// hash uniqueness through a guarded insert, while reconciliation may
// transiently observe two paths carrying the same hash after manual copies.
type MediaRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	Sha256       string `gorm:"not null;index" json:"sha256"`
	RelativePath string `gorm:"not null;uniqueIndex" json:"relative_path"`
	SizeBytes    int64  `gorm:"not null" json:"size_bytes"`
	ModTime      int64  `gorm:"not null" json:"mod_time"`      // Unix timestamp of the file on disk
	FirstSeenAt  int64  `gorm:"not null" json:"first_seen_at"` // Unix timestamp, preserved across reconciliation
}

// TableName explicitly sets the table name for GORM.
func (MediaRecord) TableName() string {
	return "media_records"
}
