package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// resolveProject validates the project name from the route, resolves the
// requested source (defaulting to primary), and checks reachability. On
// failure it writes the API error itself and returns ok=false.
func resolveProject(registry *sources.Registry, w http.ResponseWriter, r *http.Request) (storage.Project, bool) {
	name, err := storage.ValidateProjectName(chi.URLParam(r, "project_name"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return storage.Project{}, false
	}

	source, err := registry.Require(r.URL.Query().Get("source"), false)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, sources.ErrNotFound) && !errors.Is(err, sources.ErrDisabled) {
			status = http.StatusBadRequest
		}
		WriteAPIError(w, status, codeForStatus(status), err.Error())
		return storage.Project{}, false
	}
	if !source.Accessible() {
		// an unreachable root means nothing under it can be resolved;
		// NotFound is more honest than an empty listing
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("source '%s' root is not reachable", source.Name))
		return storage.Project{}, false
	}

	return storage.NewProject(name, source.Name, source.Root), true
}

// requireExistingProject additionally checks the project directory and its
// index document exist on disk.
func requireExistingProject(registry *sources.Registry, w http.ResponseWriter, r *http.Request) (storage.Project, bool) {
	project, ok := resolveProject(registry, w, r)
	if !ok {
		return storage.Project{}, false
	}
	if !project.Exists() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "project not found")
		return storage.Project{}, false
	}
	return project, true
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	}
	return CodeInternal
}

// requestBaseURL rebuilds the externally visible base URL for served media
// links.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host
}

func encodeRelPath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func sourceQuery(sourceName string) string {
	if sourceName == "" || sourceName == sources.PrimaryName {
		return ""
	}
	return "?source=" + url.QueryEscape(sourceName)
}

func buildStreamURL(base, project, rel, sourceName string) string {
	return fmt.Sprintf("%s/media/%s/%s%s", base, url.PathEscape(project), encodeRelPath(rel), sourceQuery(sourceName))
}

func buildDownloadURL(base, project, rel, sourceName string) string {
	return fmt.Sprintf("%s/media/%s/download/%s%s", base, url.PathEscape(project), encodeRelPath(rel), sourceQuery(sourceName))
}
