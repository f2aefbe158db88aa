package reindex

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/media"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
	"github.com/camden-git/mediasyncd/utils"
)

// ignoredFiles are junk filenames never treated as media.
var ignoredFiles = map[string]bool{
	"thumbs.db":   true,
	"desktop.ini": true,
}

// Result summarizes one reconciliation pass over a project.
type Result struct {
	Project         string `json:"project"`
	Source          string `json:"source"`
	Scanned         int    `json:"scanned"`
	HashedOrUpdated int    `json:"hashed_or_updated"`
	Skipped         int    `json:"skipped"`
	Removed         int    `json:"removed"`
	Relocated       int    `json:"relocated"`
}

// SweepResult aggregates a multi-source sweep.
type SweepResult struct {
	Projects []Result `json:"projects"`
	Totals   Result   `json:"totals"`
}

// Reconciler synchronizes per-project dedupe indexes with actual filesystem
// state after out-of-band edits: files added, renamed, moved, or deleted
// outside the API.
type Reconciler struct {
	DBCache *database.ProjectDBCache
}

func NewReconciler(dbCache *database.ProjectDBCache) *Reconciler {
	return &Reconciler{DBCache: dbCache}
}

func isReserved(rel string, reserved []string) bool {
	for _, r := range reserved {
		if rel == r || strings.HasPrefix(rel, r+"/") {
			return true
		}
	}
	return false
}

// ReindexProject runs the scan-diff-update pass for one project. A single
// unreadable file is logged and skipped; it never aborts the sweep.
func (rc *Reconciler) ReindexProject(p storage.Project) (*Result, error) {
	if err := p.EnsureLayout(); err != nil {
		return nil, err
	}
	db, err := rc.DBCache.Get(p.ManifestDBPath())
	if err != nil {
		return nil, err
	}
	repo := repository.NewMediaRepository(db)

	result := &Result{Project: p.Name, Source: p.SourceName}
	reserved := p.ReservedSubpaths()
	originalsDir := p.OriginalsDir()
	validPaths := make([]string, 0, 64)
	indexed := make(map[string]bool, 64)

	walkErr := filepath.WalkDir(p.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("reindex: cannot access %s: %v", path, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == p.Root {
			return nil
		}
		rel, relErr := storage.RelPosix(p.Root, path)
		if relErr != nil {
			log.Printf("reindex: %v", relErr)
			return nil
		}
		if entry.IsDir() {
			if isReserved(rel, reserved) || strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isReserved(rel, reserved) {
			return nil
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || ignoredFiles[strings.ToLower(name)] {
			return nil
		}
		// unsupported extensions are left untouched: never moved, hashed,
		// or indexed
		if !media.IsRecognized(name) {
			return nil
		}

		// a stray relocated earlier in this pass can be visited again at its
		// destination when its old directory sorted before ingest/
		if indexed[rel] {
			return nil
		}

		result.Scanned++
		finalRel, handled := rc.reconcileFile(p, repo, originalsDir, path, rel, result)
		if handled && !indexed[finalRel] {
			indexed[finalRel] = true
			validPaths = append(validPaths, finalRel)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	removed, err := repo.DeleteMissing(validPaths)
	if err != nil {
		return nil, err
	}
	result.Removed = int(removed)

	if err := rc.refreshIndex(p, repo, result); err != nil {
		return nil, err
	}

	if err := storage.AppendEvent(p, storage.EventReindexCompleted, map[string]interface{}{
		"scanned":           result.Scanned,
		"hashed_or_updated": result.HashedOrUpdated,
		"skipped":           result.Skipped,
		"removed":           result.Removed,
		"relocated":         result.Relocated,
	}); err != nil {
		log.Printf("reindex: failed to append event for project %s: %v", p.Name, err)
	}
	return result, nil
}

// reconcileFile handles one recognized media file. It returns the file's
// final indexed relative path and whether the file was successfully
// reconciled; failures are logged and the file is left out of the valid set
// so a later pass retries it.
func (rc *Reconciler) reconcileFile(p storage.Project, repo *repository.MediaRepository, originalsDir, absPath, rel string, result *Result) (string, bool) {
	info, err := os.Stat(absPath)
	if err != nil {
		log.Printf("reindex: cannot stat %s: %v", absPath, err)
		return "", false
	}

	prior, err := repo.GetByPath(rel)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("reindex: lookup failed for %s: %v", rel, err)
		return "", false
	}

	inCanonical := storage.WithinRoot(originalsDir, absPath)

	// cheap staleness check: matching size and mtime means unchanged. A
	// content change that preserves both is deliberately not detected;
	// that trade is part of the performance envelope.
	if inCanonical && prior != nil &&
		prior.SizeBytes == info.Size() && prior.ModTime == info.ModTime().Unix() {
		result.Skipped++
		return rel, true
	}

	sha, size, err := media.HashFile(absPath)
	if err != nil {
		log.Printf("reindex: hashing failed for %s: %v", absPath, err)
		return "", false
	}

	finalAbs, finalRel := absPath, rel
	if !inCanonical {
		// stray media gets relocated into canonical storage before its
		// indexed path is finalized
		dest := utils.UniqueDestination(originalsDir, filepath.Base(absPath), sha)
		if err := utils.MoveFile(absPath, dest); err != nil {
			log.Printf("reindex: relocation failed for %s: %v", absPath, err)
			return "", false
		}
		finalAbs = dest
		finalRel, err = storage.RelPosix(p.Root, dest)
		if err != nil {
			log.Printf("reindex: %v", err)
			return "", false
		}
		result.Relocated++
		log.Printf("reindex: relocated %s -> %s in project %s", rel, finalRel, p.Name)
	}

	finalInfo, err := os.Stat(finalAbs)
	if err != nil {
		log.Printf("reindex: cannot stat %s after relocation: %v", finalAbs, err)
		return "", false
	}

	firstSeen := time.Now().Unix()
	if prior != nil {
		firstSeen = prior.FirstSeenAt
	}
	if err := repo.UpsertByPath(finalRel, sha, size, finalInfo.ModTime().Unix(), firstSeen); err != nil {
		log.Printf("reindex: upsert failed for %s: %v", finalRel, err)
		return "", false
	}
	result.HashedOrUpdated++

	if prior == nil {
		sidecar := &utils.Sidecar{
			RelativePath: finalRel,
			Sha256:       sha,
			Source:       p.SourceName,
			Method:       "reindex",
			IngestedAt:   time.Now().Unix(),
		}
		sidecar.EnrichFromExif(finalAbs)
		if err := utils.WriteSidecar(p.MetadataDir(), sidecar); err != nil {
			log.Printf("reindex: %v", err)
		}
	}
	return finalRel, true
}

// refreshIndex recomputes the derived index document. The video count always
// comes from the dedupe index row count; removed_missing_records accumulates.
func (rc *Reconciler) refreshIndex(p storage.Project, repo *repository.MediaRepository, result *Result) error {
	doc, err := storage.LoadIndex(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		doc, err = storage.SeedIndex(p, "")
		if err != nil {
			return err
		}
	}
	count, err := repo.Count()
	if err != nil {
		return err
	}
	doc.Counts.Videos = count
	doc.Counts.RemovedMissingRecords += int64(result.Removed)
	return storage.SaveIndex(p, doc)
}

// SweepAll runs the single-project pass for every syntactically valid
// project directory under every enabled, reachable source, aggregating
// totals. Malformed directory names are skipped, not errored.
func (rc *Reconciler) SweepAll(registry *sources.Registry) (*SweepResult, error) {
	sweep := &SweepResult{}
	for _, source := range registry.ListEnabled() {
		if !source.Accessible() {
			log.Printf("reindex: skipping unreachable source '%s' (%s)", source.Name, source.Root)
			continue
		}
		entries, err := os.ReadDir(source.Root)
		if err != nil {
			log.Printf("reindex: cannot list source '%s': %v", source.Name, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
				continue
			}
			if _, err := storage.ValidateProjectName(name); err != nil {
				continue
			}
			project := storage.NewProject(name, source.Name, source.Root)
			result, err := rc.ReindexProject(project)
			if err != nil {
				log.Printf("reindex: sweep failed for project %s on source %s: %v", name, source.Name, err)
				continue
			}
			sweep.Projects = append(sweep.Projects, *result)
			sweep.Totals.Scanned += result.Scanned
			sweep.Totals.HashedOrUpdated += result.HashedOrUpdated
			sweep.Totals.Skipped += result.Skipped
			sweep.Totals.Removed += result.Removed
			sweep.Totals.Relocated += result.Relocated
		}
	}
	return sweep, nil
}
