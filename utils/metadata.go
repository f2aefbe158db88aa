package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/camden-git/mediasyncd/media"
)

// Sidecar is the per-media metadata document written next to the manifest,
// under ingest/_metadata/. It records provenance of an ingest plus, for
// image media, whatever EXIF the file carried.
type Sidecar struct {
	RelativePath string  `json:"relative_path"`
	Sha256       string  `json:"sha256"`
	Source       string  `json:"source"`
	Method       string  `json:"method"` // upload | reindex
	IngestedAt   int64   `json:"ingested_at"`
	TakenAt      *int64  `json:"taken_at,omitempty"`
	Orientation  *int    `json:"orientation,omitempty"`
	CameraMake   *string `json:"camera_make,omitempty"`
	CameraModel  *string `json:"camera_model,omitempty"`
}

// helper to safely get an integer tag
func getInt(exifData *exif.Exif, tagName exif.FieldName) *int {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val, err := tag.Int(0)
	if err != nil {
		return nil
	}
	return &val
}

// helper to safely get a string tag, trimming null terminators
func getString(exifData *exif.Exif, tagName exif.FieldName) *string {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val := strings.TrimRight(tag.String(), "\x00")
	if val == "" {
		return nil
	}
	return &val
}

// EnrichFromExif fills EXIF-derived fields for image media. Non-image media
// and files without EXIF are left untouched; EXIF absence is never an error.
func (s *Sidecar) EnrichFromExif(filePath string) {
	if media.KindOf(filePath) != media.KindImage {
		return
	}
	file, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer file.Close()

	exifData, err := exif.Decode(file)
	if err != nil {
		return
	}
	s.Orientation = getInt(exifData, exif.Orientation)
	s.CameraMake = getString(exifData, exif.Make)
	s.CameraModel = getString(exifData, exif.Model)
	if dt, err := exifData.DateTime(); err == nil {
		ts := dt.Unix()
		s.TakenAt = &ts
	}
}

// WriteSidecar persists the sidecar under metadataDir, keyed by content hash
// so renames on disk never orphan it.
func WriteSidecar(metadataDir string, sidecar *Sidecar) error {
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory %s: %w", metadataDir, err)
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar for %s: %w", sidecar.RelativePath, err)
	}
	target := filepath.Join(metadataDir, sidecar.Sha256+".json")
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar %s: %w", target, err)
	}
	return nil
}
