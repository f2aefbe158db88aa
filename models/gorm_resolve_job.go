package models

import (
	"encoding/json"
	"fmt"
)

// Resolve job states. Transitions are monotonic:
// pending -> claimed -> {completed | failed}.
const (
	ResolveJobPending   = "pending"
	ResolveJobClaimed   = "claimed"
	ResolveJobCompleted = "completed"
	ResolveJobFailed    = "failed"
)

// Resolve job project targets that defer project selection to the agent.
const (
	ResolveTargetNew    = "__new__"
	ResolveTargetSelect = "__select__"
)

// Resolve job modes.
const (
	ResolveModeImport = "import"
	ResolveModeReveal = "reveal_in_explorer"
)

// ResolveJob hands a media selection to the desktop Resolve agent, which
// polls the bridge queue over HTTP. It corresponds to the 'resolve_jobs'
// table in the bridge database.
type ResolveJob struct {
	ID             string  `gorm:"primaryKey" json:"id"` // UUID
	Project        string  `gorm:"not null" json:"project"`
	NewProjectName *string `gorm:"" json:"new_project_name,omitempty"` // Nullable
	Source         string  `gorm:"not null" json:"source"`
	MediaPathsJSON string  `gorm:"column:media_paths;not null" json:"-"` // ordered relative paths, JSON array
	Mode           string  `gorm:"not null" json:"mode"`
	Status         string  `gorm:"not null;index;default:pending" json:"status"`
	ClaimedBy      *string `gorm:"" json:"claimed_by,omitempty"` // Nullable
	Error          *string `gorm:"" json:"error,omitempty"`      // Nullable
	CreatedAt      int64   `gorm:"not null" json:"created_at"`   // Unix timestamp
	ClaimedAt      *int64  `gorm:"" json:"claimed_at,omitempty"` // Nullable, Unix timestamp
	DoneAt         *int64  `gorm:"" json:"done_at,omitempty"`    // Nullable, Unix timestamp
	FailedAt       *int64  `gorm:"" json:"failed_at,omitempty"`  // Nullable, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (ResolveJob) TableName() string {
	return "resolve_jobs"
}

// SetMediaPaths stores the ordered media selection as JSON.
func (j *ResolveJob) SetMediaPaths(paths []string) error {
	data, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("failed to encode media paths: %w", err)
	}
	j.MediaPathsJSON = string(data)
	return nil
}

// MediaPaths decodes the ordered media selection.
func (j *ResolveJob) MediaPaths() ([]string, error) {
	var paths []string
	if err := json.Unmarshal([]byte(j.MediaPathsJSON), &paths); err != nil {
		return nil, fmt.Errorf("failed to decode media paths for job %s: %w", j.ID, err)
	}
	return paths, nil
}

// IsTerminal reports whether the job reached a terminal state.
func (j *ResolveJob) IsTerminal() bool {
	return j.Status == ResolveJobCompleted || j.Status == ResolveJobFailed
}
