package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/camden-git/mediasyncd/config"
)

// Project is a validated project inside a resolved source root. It only
// carries path knowledge; repositories operate on the manifest database it
// points at.
type Project struct {
	Name       string
	SourceName string
	Root       string // absolute path of the project directory
}

// NewProject builds a project context under sourceRoot for a validated name.
func NewProject(name, sourceName, sourceRoot string) Project {
	return Project{
		Name:       name,
		SourceName: sourceName,
		Root:       filepath.Join(sourceRoot, name),
	}
}

// Exists reports whether the project directory is present on disk.
func (p Project) Exists() bool {
	info, err := os.Stat(p.Root)
	return err == nil && info.IsDir()
}

// OriginalsDir is the canonical storage subtree for deduplicated media.
func (p Project) OriginalsDir() string {
	return filepath.Join(p.Root, filepath.FromSlash(config.DefaultOriginalsSubDir))
}

// ThumbnailsDir holds client-posted thumbnails.
func (p Project) ThumbnailsDir() string {
	return filepath.Join(p.Root, filepath.FromSlash(config.DefaultThumbnailsSubDir))
}

// MetadataDir holds sidecar metadata documents.
func (p Project) MetadataDir() string {
	return filepath.Join(p.Root, filepath.FromSlash(config.DefaultMetadataSubDir))
}

// ManifestDir holds the manifest database, event ledger and batch files.
func (p Project) ManifestDir() string {
	return filepath.Join(p.Root, config.DefaultManifestSubDir)
}

// ManifestDBPath is the per-project dedupe index database.
func (p Project) ManifestDBPath() string {
	return filepath.Join(p.ManifestDir(), "manifest.db")
}

// EventsPath is the append-only event ledger.
func (p Project) EventsPath() string {
	return filepath.Join(p.ManifestDir(), "events.jsonl")
}

// IndexPath is the derived index summary document.
func (p Project) IndexPath() string {
	return filepath.Join(p.Root, "index.json")
}

// BatchesDir holds upload batch session files.
func (p Project) BatchesDir() string {
	return filepath.Join(p.ManifestDir(), "upload_batches")
}

// ReservedSubpaths are the project-relative paths reconciliation must never
// walk into or index.
func (p Project) ReservedSubpaths() []string {
	return []string{
		"index.json",
		config.DefaultManifestSubDir,
		config.DefaultThumbnailsSubDir,
		config.DefaultMetadataSubDir,
	}
}

// EnsureLayout creates the expected project subdirectories idempotently.
func (p Project) EnsureLayout() error {
	for _, dir := range []string{p.OriginalsDir(), p.ThumbnailsDir(), p.MetadataDir(), p.ManifestDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create project directory %s: %w", dir, err)
		}
	}
	return nil
}

// AbsoluteMediaPath joins a validated relative media path to the project
// root and re-checks the boundary.
func (p Project) AbsoluteMediaPath(relativePath string) (string, error) {
	cleaned, err := ValidateRelativePath(relativePath)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(p.Root, filepath.FromSlash(cleaned))
	if !WithinRoot(p.Root, abs) {
		return "", fmt.Errorf("path '%s' escapes the project", relativePath)
	}
	return abs, nil
}
