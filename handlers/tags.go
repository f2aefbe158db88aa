package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/mediasyncd/models"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

// TagHandler serves the shared tag store: per-asset tag assignment plus
// tag-level display metadata. Tags live in one database across all projects
// and sources; the asset id carries the scoping.
type TagHandler struct {
	Registry *sources.Registry
	Tags     repository.TagRepositoryInterface
}

func NewTagHandler(registry *sources.Registry, tags repository.TagRepositoryInterface) *TagHandler {
	return &TagHandler{Registry: registry, Tags: tags}
}

// ListTags returns known tags with their display metadata, optionally
// filtered by a substring and capped by ?limit=.
func (h *TagHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	metas, err := h.Tags.ListTags(r.URL.Query().Get("q"), limit)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if metas == nil {
		metas = []models.TagMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": metas})
}

type patchTagPayload struct {
	Color       string `json:"color"`
	Description string `json:"description"`
}

// PatchTag sets a tag's color and/or description. Omitted attributes keep
// their stored values.
func (h *TagHandler) PatchTag(w http.ResponseWriter, r *http.Request) {
	if repository.NormalizeTag(chi.URLParam(r, "tag")) == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "tag cannot be empty")
		return
	}
	var payload patchTagPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	meta, err := h.Tags.UpsertTagMeta(chi.URLParam(r, "tag"), payload.Color, payload.Description)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// assetRef resolves the routed project, the ?rel_path= selector, and the
// derived asset id. On failure it writes the API error itself.
func (h *TagHandler) assetRef(w http.ResponseWriter, r *http.Request) (storage.Project, string, string, bool) {
	project, ok := resolveProject(h.Registry, w, r)
	if !ok {
		return storage.Project{}, "", "", false
	}
	rel, err := storage.ValidateRelativePath(r.URL.Query().Get("rel_path"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return storage.Project{}, "", "", false
	}
	return project, rel, repository.AssetID(project.SourceName, project.Name, rel), true
}

// GetAssetTags returns the tags of one asset plus per-origin counts.
func (h *TagHandler) GetAssetTags(w http.ResponseWriter, r *http.Request) {
	project, rel, assetID, ok := h.assetRef(w, r)
	if !ok {
		return
	}
	tags, err := h.Tags.GetAssetTags(assetID)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	counts, err := h.Tags.CountAssetTagsByOrigin(assetID)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset_id":      assetID,
		"project":       project.Name,
		"source":        project.SourceName,
		"relative_path": rel,
		"tags":          tags,
		"origin_counts": counts,
	})
}

type assetTagsPayload struct {
	Tags   []string `json:"tags"`
	Origin string   `json:"origin"`
}

func decodeAssetTagsPayload(w http.ResponseWriter, r *http.Request) (*assetTagsPayload, bool) {
	var payload assetTagsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return nil, false
	}
	if payload.Origin == "" {
		payload.Origin = models.TagOriginUser
	}
	if payload.Origin != models.TagOriginUser && payload.Origin != models.TagOriginAuto {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "origin must be 'user' or 'auto'")
		return nil, false
	}
	return &payload, true
}

// AddAssetTags applies tags to one asset and returns the full set afterward.
// Tags are normalized before storage; re-applying an existing tag is a no-op.
func (h *TagHandler) AddAssetTags(w http.ResponseWriter, r *http.Request) {
	_, _, assetID, ok := h.assetRef(w, r)
	if !ok {
		return
	}
	payload, ok := decodeAssetTagsPayload(w, r)
	if !ok {
		return
	}
	normalized := repository.NormalizeTags(payload.Tags)
	if len(normalized) == 0 {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "no usable tags in request")
		return
	}
	tags, err := h.Tags.AddAssetTags(assetID, normalized, payload.Origin)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset_id": assetID, "tags": tags})
}

// RemoveAssetTags drops tags from one asset and returns the remainder.
func (h *TagHandler) RemoveAssetTags(w http.ResponseWriter, r *http.Request) {
	_, _, assetID, ok := h.assetRef(w, r)
	if !ok {
		return
	}
	payload, ok := decodeAssetTagsPayload(w, r)
	if !ok {
		return
	}
	tags, err := h.Tags.RemoveAssetTags(assetID, repository.NormalizeTags(payload.Tags))
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset_id": assetID, "tags": tags})
}

type batchTagsPayload struct {
	Project  string   `json:"project"`
	Source   string   `json:"source"`
	RelPaths []string `json:"rel_paths"`
}

// BatchTags resolves tags for many relative paths of one project in a single
// call, so a browser listing does not need one request per row. The source
// may be disabled or offline; tags are a database lookup, not a filesystem
// one.
func (h *TagHandler) BatchTags(w http.ResponseWriter, r *http.Request) {
	var payload batchTagsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	projectName, err := storage.ValidateProjectName(payload.Project)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	source, err := h.Registry.Require(payload.Source, true)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, sources.ErrNotFound) {
			status = http.StatusBadRequest
		}
		WriteAPIError(w, status, codeForStatus(status), err.Error())
		return
	}

	assetIDs := make([]string, 0, len(payload.RelPaths))
	for _, raw := range payload.RelPaths {
		rel, err := storage.ValidateRelativePath(raw)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		assetIDs = append(assetIDs, repository.AssetID(source.Name, projectName, rel))
	}

	mapping, err := h.Tags.BatchGetAssetTags(assetIDs)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": projectName,
		"source":  source.Name,
		"map":     mapping,
	})
}
