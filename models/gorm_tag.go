package models

// Tag origins recorded on asset tags.
const (
	TagOriginUser = "user"
	TagOriginAuto = "auto"
)

// AssetTag links one normalized tag to one asset. Assets are addressed by a
// stable hash over source name and project-qualified relative path, so a tag
// survives manifest database rebuilds and filesystem reindexes.
type AssetTag struct {
	AssetID   string `gorm:"column:asset_id;primaryKey" json:"asset_id"`
	Tag       string `gorm:"primaryKey;index" json:"tag"`
	CreatedAt int64  `gorm:"not null" json:"created_at"`
	Origin    string `gorm:"not null;default:user" json:"origin"`
}

// TableName specifies the table name for GORM
func (AssetTag) TableName() string {
	return "asset_tags"
}

// TagMeta carries display attributes for a tag. A row appears here the first
// time a tag is applied anywhere; color and description stay empty until a
// client sets them.
type TagMeta struct {
	Tag         string `gorm:"primaryKey" json:"tag"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `gorm:"not null" json:"created_at"`
	UpdatedAt   int64  `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (TagMeta) TableName() string {
	return "tag_meta"
}
