package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IndexCounts are the summary counters of an index document. Videos is
// always recomputed from the dedupe index row count; DuplicatesSkipped and
// RemovedMissingRecords are cumulative and are the only independently
// carried state, since they cannot be derived from surviving rows.
type IndexCounts struct {
	Videos                int64 `json:"videos"`
	DuplicatesSkipped     int64 `json:"duplicates_skipped"`
	RemovedMissingRecords int64 `json:"removed_missing_records"`
}

// IndexDocument is the small per-project derived summary persisted as
// index.json in the project root.
type IndexDocument struct {
	Project   string      `json:"project"`
	Notes     string      `json:"notes"`
	CreatedAt int64       `json:"created_at"` // Unix timestamp
	UpdatedAt int64       `json:"updated_at"` // Unix timestamp
	Counts    IndexCounts `json:"counts"`
}

// LoadIndex reads a project's index document. A missing file is reported
// with os.ErrNotExist wrapped so callers can map it to NotFound.
func LoadIndex(p Project) (*IndexDocument, error) {
	data, err := os.ReadFile(p.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("missing index for project %s: %w", p.Name, err)
		}
		return nil, fmt.Errorf("failed to read index for project %s: %w", p.Name, err)
	}
	var doc IndexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse index for project %s: %w", p.Name, err)
	}
	if doc.Project == "" {
		doc.Project = p.Name
	}
	return &doc, nil
}

// SaveIndex writes the index document atomically (temp file + rename) so a
// crashed writer never leaves a torn document behind.
func SaveIndex(p Project, doc *IndexDocument) error {
	doc.UpdatedAt = time.Now().Unix()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index for project %s: %w", p.Name, err)
	}

	target := p.IndexPath()
	tmp, err := os.CreateTemp(filepath.Dir(target), ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index for project %s: %w", p.Name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp index for project %s: %w", p.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp index for project %s: %w", p.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp index for project %s: %w", p.Name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace index for project %s: %w", p.Name, err)
	}
	return nil
}

// SeedIndex creates a fresh index document for a new project.
func SeedIndex(p Project, notes string) (*IndexDocument, error) {
	now := time.Now().Unix()
	doc := &IndexDocument{
		Project:   p.Name,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := SaveIndex(p, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
