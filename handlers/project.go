package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"sort"

	"github.com/facette/natsort"

	"github.com/camden-git/mediasyncd/reindex"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

// ProjectHandler serves project listing, creation, and summary endpoints.
type ProjectHandler struct {
	Registry   *sources.Registry
	Reconciler *reindex.Reconciler
}

func NewProjectHandler(registry *sources.Registry, reconciler *reindex.Reconciler) *ProjectHandler {
	return &ProjectHandler{Registry: registry, Reconciler: reconciler}
}

// ProjectListing is one entry of the project list response.
type ProjectListing struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	IndexExists bool   `json:"index_exists"`
}

// ListProjects lists project directories under the resolved source, natural
// sorted. Directories with invalid names and reserved subtrees are skipped.
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	source, err := h.Registry.Require(r.URL.Query().Get("source"), false)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, sources.ErrNotFound) && !errors.Is(err, sources.ErrDisabled) {
			status = http.StatusBadRequest
		}
		WriteAPIError(w, status, codeForStatus(status), err.Error())
		return
	}
	if !source.Accessible() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "source '"+source.Name+"' root is not reachable")
		return
	}

	entries, err := os.ReadDir(source.Root)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "failed to list projects: "+err.Error())
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name[0] == '_' || name[0] == '.' {
			continue
		}
		if _, err := storage.ValidateProjectName(name); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return natsort.Compare(names[i], names[j]) })

	listings := make([]ProjectListing, 0, len(names))
	for _, name := range names {
		project := storage.NewProject(name, source.Name, source.Root)
		_, statErr := os.Stat(project.IndexPath())
		listings = append(listings, ProjectListing{
			Name:        name,
			Source:      source.Name,
			IndexExists: statErr == nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": listings})
}

type createProjectPayload struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Notes string `json:"notes"`
}

// CreateProject creates a project directory with the standard layout, seeds
// its index document, and runs an initial reconciliation pass. When no name
// is given, the next sequenced "P{n}-Label" name is allocated from the
// existing directories under the source.
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	source, err := h.Registry.Require(r.URL.Query().Get("source"), false)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, sources.ErrNotFound) && !errors.Is(err, sources.ErrDisabled) {
			status = http.StatusBadRequest
		}
		WriteAPIError(w, status, codeForStatus(status), err.Error())
		return
	}
	if !source.Accessible() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "source '"+source.Name+"' root is not reachable")
		return
	}

	// an empty body is fine: it means "allocate the next sequenced name"
	var payload createProjectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}

	name := payload.Name
	if name == "" {
		name = storage.SequencedProjectName(source.Root, payload.Label)
	}
	name, err = storage.ValidateProjectName(name)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	project := storage.NewProject(name, source.Name, source.Root)
	if project.Exists() {
		WriteAPIError(w, http.StatusConflict, CodeConflict, "project '"+name+"' already exists")
		return
	}
	if err := os.MkdirAll(project.Root, 0755); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "failed to create project directory: "+err.Error())
		return
	}
	if err := project.EnsureLayout(); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	doc, err := storage.SeedIndex(project, payload.Notes)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	// a fresh directory may still contain media dropped in before the API
	// knew about it; index whatever is already there
	if _, err := h.Reconciler.ReindexProject(project); err != nil {
		log.Printf("projects: initial reindex of %s failed: %v", name, err)
	} else {
		if refreshed, loadErr := storage.LoadIndex(project); loadErr == nil {
			doc = refreshed
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

// GetProject returns the project's index document.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	doc, err := storage.LoadIndex(project)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "project '"+project.Name+"' has no index; run a reindex")
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetProjectEvents returns the project's manifest event ledger.
func (h *ProjectHandler) GetProjectEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	events, err := storage.ReadEvents(project)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if events == nil {
		events = []storage.ManifestEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
