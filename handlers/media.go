package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/facette/natsort"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/media"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

// MediaHandler serves listing, deletion, thumbnail and byte-serving endpoints
// for indexed media.
type MediaHandler struct {
	Registry *sources.Registry
	DBCache  *database.ProjectDBCache
}

func NewMediaHandler(registry *sources.Registry, dbCache *database.ProjectDBCache) *MediaHandler {
	return &MediaHandler{Registry: registry, DBCache: dbCache}
}

// MediaListing is one indexed file in the list response. SizeHuman is a
// display convenience; SizeBytes stays authoritative.
type MediaListing struct {
	RelativePath string `json:"relative_path"`
	Sha256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	SizeHuman    string `json:"size_human"`
	ModTime      int64  `json:"mod_time"`
	FirstSeenAt  int64  `json:"first_seen_at"`
	Kind         string `json:"kind"`
	StreamURL    string `json:"stream_url"`
	DownloadURL  string `json:"download_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ListMedia returns every indexed record of the project, natural sorted by
// relative path so clip_2 precedes clip_10.
func (h *MediaHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	db, err := h.DBCache.Get(project.ManifestDBPath())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	records, err := repository.NewMediaRepository(db).ListAll()
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return natsort.Compare(records[i].RelativePath, records[j].RelativePath)
	})

	base := requestBaseURL(r)
	listings := make([]MediaListing, 0, len(records))
	for _, record := range records {
		listing := MediaListing{
			RelativePath: record.RelativePath,
			Sha256:       record.Sha256,
			SizeBytes:    record.SizeBytes,
			SizeHuman:    humanize.Bytes(uint64(record.SizeBytes)),
			ModTime:      record.ModTime,
			FirstSeenAt:  record.FirstSeenAt,
			Kind:         string(media.KindOf(record.RelativePath)),
			StreamURL:    buildStreamURL(base, project.Name, record.RelativePath, project.SourceName),
			DownloadURL:  buildDownloadURL(base, project.Name, record.RelativePath, project.SourceName),
		}
		if name, ok := thumbnailFile(project, record.Sha256); ok {
			listing.ThumbnailURL = fmt.Sprintf("%s/media/%s/thumbnail/%s%s",
				base, url.PathEscape(project.Name), name, sourceQuery(project.SourceName))
		}
		listings = append(listings, listing)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"media": listings})
}

// DeleteMedia removes a file from canonical storage and drops its record.
// The index's video count is re-derived; the ledger records the deletion.
func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	rel, ok := wildcardRelPath(w, r)
	if !ok {
		return
	}
	abs, err := project.AbsoluteMediaPath(rel)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	db, err := h.DBCache.Get(project.ManifestDBPath())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	repo := repository.NewMediaRepository(db)

	record, err := repo.GetByPath(rel)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "media '"+rel+"' is not indexed")
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "failed to delete "+rel+": "+err.Error())
		return
	}
	if err := repo.DeleteByPath(rel); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	// the sidecar and any stored thumbnail are keyed by content hash; once
	// the last record with this hash is gone they point at nothing
	if _, err := repo.GetByHash(record.Sha256); errors.Is(err, gorm.ErrRecordNotFound) {
		sidecar := filepath.Join(project.MetadataDir(), record.Sha256+".json")
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			log.Printf("media: failed to remove sidecar for %s: %v", record.Sha256, err)
		}
		if name, ok := thumbnailFile(project, record.Sha256); ok {
			if err := os.Remove(filepath.Join(project.ThumbnailsDir(), name)); err != nil {
				log.Printf("media: failed to remove thumbnail for %s: %v", record.Sha256, err)
			}
		}
	}

	if doc, loadErr := storage.LoadIndex(project); loadErr == nil {
		if count, countErr := repo.Count(); countErr == nil {
			doc.Counts.Videos = count
			if saveErr := storage.SaveIndex(project, doc); saveErr != nil {
				log.Printf("media: failed to save index for %s: %v", project.Name, saveErr)
			}
		}
	}
	if err := storage.AppendEvent(project, storage.EventMediaDeleted, map[string]interface{}{
		"relative_path": rel,
		"sha256":        record.Sha256,
	}); err != nil {
		log.Printf("media: failed to append event for %s: %v", project.Name, err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":       true,
		"relative_path": rel,
		"sha256":        record.Sha256,
	})
}

var thumbnailExtByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type storeThumbnailPayload struct {
	Sha256  string `json:"sha256"`
	DataURL string `json:"data_url"`
}

// StoreThumbnail accepts a client-rendered thumbnail as a base64 data URL and
// stores it keyed by the media's content hash. The service never renders
// thumbnails itself.
func (h *MediaHandler) StoreThumbnail(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	var payload storeThumbnailPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if payload.Sha256 == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "sha256 is required")
		return
	}

	db, err := h.DBCache.Get(project.ManifestDBPath())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if _, err := repository.NewMediaRepository(db).GetByHash(payload.Sha256); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "no indexed media with hash "+payload.Sha256)
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	mime, data, err := decodeDataURL(payload.DataURL)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	ext, known := thumbnailExtByMime[mime]
	if !known {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "unsupported thumbnail type "+mime)
		return
	}

	if err := os.MkdirAll(project.ThumbnailsDir(), 0755); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	name := payload.Sha256 + ext
	if err := os.WriteFile(filepath.Join(project.ThumbnailsDir(), name), data, 0644); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "failed to store thumbnail: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sha256": payload.Sha256,
		"thumbnail_url": fmt.Sprintf("%s/media/%s/thumbnail/%s%s",
			requestBaseURL(r), url.PathEscape(project.Name), name, sourceQuery(project.SourceName)),
	})
}

// StreamMedia serves media bytes with range support, so video players can
// seek without downloading the whole file.
func (h *MediaHandler) StreamMedia(w http.ResponseWriter, r *http.Request) {
	h.serveMedia(w, r, false)
}

// DownloadMedia serves media bytes as an attachment.
func (h *MediaHandler) DownloadMedia(w http.ResponseWriter, r *http.Request) {
	h.serveMedia(w, r, true)
}

func (h *MediaHandler) serveMedia(w http.ResponseWriter, r *http.Request, attachment bool) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	rel, ok := wildcardRelPath(w, r)
	if !ok {
		return
	}
	abs, err := project.AbsoluteMediaPath(rel)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "media '"+rel+"' not found")
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "media '"+rel+"' not found")
		return
	}

	if attachment {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(abs)))
	}
	http.ServeContent(w, r, filepath.Base(abs), info.ModTime(), f)
}

// ServeThumbnail serves a stored thumbnail by its hash-keyed filename.
func (h *MediaHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	name, err := storage.ValidateFilename(chi.URLParam(r, "thumbnail_name"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	path := filepath.Join(project.ThumbnailsDir(), name)
	f, err := os.Open(path)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "thumbnail not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "thumbnail not found")
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// thumbnailFile probes for a stored thumbnail of the given hash and returns
// its filename.
func thumbnailFile(project storage.Project, sha string) (string, bool) {
	for _, ext := range []string{".jpg", ".png", ".webp"} {
		name := sha + ext
		if _, err := os.Stat(filepath.Join(project.ThumbnailsDir(), name)); err == nil {
			return name, true
		}
	}
	return "", false
}

// wildcardRelPath extracts and unescapes the trailing wildcard route segment.
func wildcardRelPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	rel, err := url.PathUnescape(raw)
	if err != nil {
		rel = raw
	}
	if strings.TrimSpace(rel) == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "media path is required")
		return "", false
	}
	return rel, true
}

// decodeDataURL parses a "data:<mime>;base64,<payload>" URL.
func decodeDataURL(dataURL string) (string, []byte, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("data_url must be a base64 data URL")
	}
	rest := strings.TrimPrefix(dataURL, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", nil, fmt.Errorf("data_url must be base64 encoded")
	}
	mime := rest[:sep]
	payload := rest[sep+len(";base64,"):]
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 thumbnail payload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("thumbnail payload is empty")
	}
	return mime, data, nil
}
