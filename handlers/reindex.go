package handlers

import (
	"net/http"

	"github.com/camden-git/mediasyncd/reindex"
	"github.com/camden-git/mediasyncd/sources"
)

// ReindexHandler triggers reconciliation passes over projects.
type ReindexHandler struct {
	Registry   *sources.Registry
	Reconciler *reindex.Reconciler
}

func NewReindexHandler(registry *sources.Registry, reconciler *reindex.Reconciler) *ReindexHandler {
	return &ReindexHandler{Registry: registry, Reconciler: reconciler}
}

// ReindexProject runs one scan-diff-update pass over a single project and
// returns its counters.
func (h *ReindexHandler) ReindexProject(w http.ResponseWriter, r *http.Request) {
	project, ok := requireExistingProject(h.Registry, w, r)
	if !ok {
		return
	}
	result, err := h.Reconciler.ReindexProject(project)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SweepAll reindexes every project under every enabled, reachable source.
func (h *ReindexHandler) SweepAll(w http.ResponseWriter, r *http.Request) {
	sweep, err := h.Reconciler.SweepAll(h.Registry)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if sweep.Projects == nil {
		sweep.Projects = []reindex.Result{}
	}
	writeJSON(w, http.StatusOK, sweep)
}
