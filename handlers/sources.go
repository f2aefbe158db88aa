package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/mediasyncd/sources"
)

// SourceHandler exposes the source registry over HTTP.
type SourceHandler struct {
	Registry *sources.Registry
}

func NewSourceHandler(registry *sources.Registry) *SourceHandler {
	return &SourceHandler{Registry: registry}
}

// SourceView is a registry entry plus its live reachability probe.
type SourceView struct {
	Name       string `json:"name"`
	Root       string `json:"root"`
	Kind       string `json:"kind"`
	Enabled    bool   `json:"enabled"`
	Accessible bool   `json:"accessible"`
}

func sourceView(s sources.Source) SourceView {
	return SourceView{
		Name:       s.Name,
		Root:       s.Root,
		Kind:       s.Kind,
		Enabled:    s.Enabled,
		Accessible: s.Accessible(),
	}
}

// ListSources returns every registered source with a fresh reachability
// probe. Disabled sources are included; clients decide how to render them.
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	all := h.Registry.ListAll()
	views := make([]SourceView, 0, len(all))
	for _, source := range all {
		views = append(views, sourceView(source))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": views})
}

type registerSourcePayload struct {
	Name    string `json:"name"`
	Root    string `json:"root"`
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled"`
}

// RegisterSource adds or replaces a named source. The root is not required to
// be reachable at registration time; an offline NAS simply lists as
// inaccessible until it mounts.
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var payload registerSourcePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if payload.Root == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "source root is required")
		return
	}
	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}

	source, err := h.Registry.Register(payload.Name, payload.Root, payload.Kind, enabled)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sourceView(*source))
}

// RemoveSource drops a source from the registry. Its projects stay on disk.
func (h *SourceHandler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Remove(chi.URLParam(r, "source_name")); err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

// ToggleSource flips a source's enabled flag.
func (h *SourceHandler) ToggleSource(w http.ResponseWriter, r *http.Request) {
	source, err := h.Registry.Toggle(chi.URLParam(r, "source_name"))
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sourceView(*source))
}
