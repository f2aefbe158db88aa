package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/media"
	"github.com/camden-git/mediasyncd/models"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
	"github.com/camden-git/mediasyncd/utils"
)

// UploadHandler ingests media streams into canonical project storage with
// content-hash deduplication.
type UploadHandler struct {
	Registry       *sources.Registry
	DBCache        *database.ProjectDBCache
	MaxUploadBytes int64
}

func NewUploadHandler(registry *sources.Registry, dbCache *database.ProjectDBCache, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{Registry: registry, DBCache: dbCache, MaxUploadBytes: maxUploadBytes}
}

// UploadResult is the per-file outcome of an ingest request. Duplicates are a
// normal outcome: the existing canonical file is reported, nothing is stored.
type UploadResult struct {
	Filename     string `json:"filename"`
	Duplicate    bool   `json:"duplicate"`
	RelativePath string `json:"relative_path"`
	Sha256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	StreamURL    string `json:"stream_url"`
	DownloadURL  string `json:"download_url"`
}

// Upload streams one or more multipart files (form fields "file" or "files")
// into the project. Each file is spooled to scratch under the manifest
// directory, hashed, and either committed to ingest/originals or reported as
// a duplicate of an existing record.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	if err := project.EnsureLayout(); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	db, err := h.DBCache.Get(project.ManifestDBPath())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	repo := repository.NewMediaRepository(db)

	batchID := r.URL.Query().Get("batch_id")
	var batchMeta *storage.BatchMeta
	if batchID != "" {
		batchMeta, err = storage.LoadBatchMeta(project, batchID)
		if err != nil {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		if batchMeta.Closed {
			WriteAPIError(w, http.StatusConflict, CodeConflict, "batch "+batchID+" is already finalized")
			return
		}
	}

	reader, err := r.MultipartReader()
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "expected multipart form data: "+err.Error())
		return
	}

	base := requestBaseURL(r)
	var results []UploadResult
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a connection truncated mid-stream must not look like a
			// successful ingest of whatever made it through
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, "malformed multipart stream: "+err.Error())
			return
		}
		if part.FormName() != "file" && part.FormName() != "files" {
			continue
		}

		filename, err := storage.ValidateFilename(part.FileName())
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		if !media.IsRecognized(filename) {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, "unsupported media type: "+filename)
			return
		}

		result, status, err := h.ingestOne(project, repo, part, filename, base)
		if err != nil {
			WriteAPIError(w, status, codeForStatus(status), err.Error())
			return
		}
		results = append(results, *result)

		if batchMeta != nil {
			item := storage.BatchItem{
				Duplicate:    result.Duplicate,
				Filename:     result.Filename,
				RelativePath: result.RelativePath,
				Sha256:       result.Sha256,
				SizeBytes:    result.SizeBytes,
				StreamURL:    result.StreamURL,
				DownloadURL:  result.DownloadURL,
			}
			if err := storage.AppendBatchItem(project, batchID, item); err != nil {
				log.Printf("upload: failed to record batch item for %s: %v", batchID, err)
			}
		}
	}

	if len(results) == 0 {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "no file parts in request")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"results": results})
}

// ingestOne runs the single-file ingest: spool, hash, dedupe check, commit.
func (h *UploadHandler) ingestOne(project storage.Project, repo *repository.MediaRepository, stream io.Reader, filename, base string) (*UploadResult, int, error) {
	hr, err := media.HashToScratch(stream, project.ManifestDir(), h.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, media.ErrPayloadTooLarge) {
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Errorf("'%s' exceeds the upload size limit", filename)
		}
		return nil, http.StatusInternalServerError, err
	}

	existing, err := repo.GetByHash(hr.Sha256Hex)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		hr.Discard()
		return nil, http.StatusInternalServerError, err
	}
	if existing != nil {
		hr.Discard()
		return h.recordDuplicate(project, existing, filename, hr.Sha256Hex, base)
	}

	dest := utils.UniqueDestination(project.OriginalsDir(), filename, hr.Sha256Hex)
	if err := utils.MoveFile(hr.ScratchPath, dest); err != nil {
		hr.Discard()
		return nil, http.StatusInternalServerError, err
	}
	rel, err := storage.RelPosix(project.Root, dest)
	if err != nil {
		os.Remove(dest)
		return nil, http.StatusInternalServerError, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		os.Remove(dest)
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to stat stored file %s: %w", dest, err)
	}

	now := time.Now().Unix()
	record := &models.MediaRecord{
		Sha256:       hr.Sha256Hex,
		RelativePath: rel,
		SizeBytes:    hr.SizeBytes,
		ModTime:      info.ModTime().Unix(),
		FirstSeenAt:  now,
	}
	if err := repo.Insert(record); err != nil {
		// the guarded insert lost a race to a concurrent ingest of the same
		// content; drop the file we just placed and report the winner's copy
		if errors.Is(err, repository.ErrHashExists) {
			os.Remove(dest)
			winner, getErr := repo.GetByHash(hr.Sha256Hex)
			if getErr != nil {
				return nil, http.StatusInternalServerError, getErr
			}
			return h.recordDuplicate(project, winner, filename, hr.Sha256Hex, base)
		}
		os.Remove(dest)
		return nil, http.StatusInternalServerError, err
	}

	if err := h.refreshVideoCount(project, repo); err != nil {
		log.Printf("upload: failed to refresh index for %s: %v", project.Name, err)
	}
	if err := storage.AppendEvent(project, storage.EventUploadIngested, map[string]interface{}{
		"filename":      filename,
		"relative_path": rel,
		"sha256":        hr.Sha256Hex,
		"size_bytes":    hr.SizeBytes,
	}); err != nil {
		log.Printf("upload: failed to append event for %s: %v", project.Name, err)
	}

	sidecar := &utils.Sidecar{
		RelativePath: rel,
		Sha256:       hr.Sha256Hex,
		Source:       project.SourceName,
		Method:       "upload",
		IngestedAt:   now,
	}
	sidecar.EnrichFromExif(dest)
	if err := utils.WriteSidecar(project.MetadataDir(), sidecar); err != nil {
		log.Printf("upload: %v", err)
	}

	return &UploadResult{
		Filename:     filename,
		RelativePath: rel,
		Sha256:       hr.Sha256Hex,
		SizeBytes:    hr.SizeBytes,
		StreamURL:    buildStreamURL(base, project.Name, rel, project.SourceName),
		DownloadURL:  buildDownloadURL(base, project.Name, rel, project.SourceName),
	}, 0, nil
}

// recordDuplicate reports an already-ingested content hash, bumping the
// cumulative duplicates counter and appending a ledger event.
func (h *UploadHandler) recordDuplicate(project storage.Project, existing *models.MediaRecord, filename, sha string, base string) (*UploadResult, int, error) {
	if doc, err := storage.LoadIndex(project); err == nil {
		doc.Counts.DuplicatesSkipped++
		if saveErr := storage.SaveIndex(project, doc); saveErr != nil {
			log.Printf("upload: failed to save index for %s: %v", project.Name, saveErr)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("upload: failed to load index for %s: %v", project.Name, err)
	}
	if err := storage.AppendEvent(project, storage.EventUploadDuplicateSkipped, map[string]interface{}{
		"filename":      filename,
		"sha256":        sha,
		"existing_path": existing.RelativePath,
	}); err != nil {
		log.Printf("upload: failed to append event for %s: %v", project.Name, err)
	}

	return &UploadResult{
		Filename:     filename,
		Duplicate:    true,
		RelativePath: existing.RelativePath,
		Sha256:       existing.Sha256,
		SizeBytes:    existing.SizeBytes,
		StreamURL:    buildStreamURL(base, project.Name, existing.RelativePath, project.SourceName),
		DownloadURL:  buildDownloadURL(base, project.Name, existing.RelativePath, project.SourceName),
	}, 0, nil
}

func (h *UploadHandler) refreshVideoCount(project storage.Project, repo *repository.MediaRepository) error {
	doc, err := storage.LoadIndex(project)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		doc, err = storage.SeedIndex(project, "")
		if err != nil {
			return err
		}
	}
	count, err := repo.Count()
	if err != nil {
		return err
	}
	doc.Counts.Videos = count
	return storage.SaveIndex(project, doc)
}

// BatchStart opens an upload batch session and returns its id. Uploads tagged
// with the id get their results aggregated under the batch.
func (h *UploadHandler) BatchStart(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	meta, err := storage.StartBatch(project, uuid.New().String())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// BatchSnapshot returns the batch meta, its recorded items so far, and a
// running summary. Works on open and finalized batches alike.
func (h *UploadHandler) BatchSnapshot(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	meta, err := storage.LoadBatchMeta(project, batchID)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	items, err := storage.ReadBatchItems(project, batchID)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if items == nil {
		items = []storage.BatchItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   meta,
		"items":   items,
		"summary": storage.SummarizeBatch(items),
	})
}

// BatchFinalize closes a batch session and returns its final summary.
// Finalizing twice is idempotent.
func (h *UploadHandler) BatchFinalize(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	meta, err := storage.LoadBatchMeta(project, batchID)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	if err := storage.CloseBatch(project, meta); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	items, err := storage.ReadBatchItems(project, batchID)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   meta,
		"summary": storage.SummarizeBatch(items),
	})
}
