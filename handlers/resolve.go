package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/mediasyncd/models"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

// ResolveHandler exposes the bridge job queue that hands media selections to
// the desktop editing agent. The agent polls claim, then reports completion
// or failure; the service never talks to the desktop directly.
type ResolveHandler struct {
	Registry *sources.Registry
	Jobs     repository.ResolveJobRepositoryInterface
}

func NewResolveHandler(registry *sources.Registry, jobs repository.ResolveJobRepositoryInterface) *ResolveHandler {
	return &ResolveHandler{Registry: registry, Jobs: jobs}
}

type openJobPayload struct {
	Project        string   `json:"project"`
	NewProjectName *string  `json:"new_project_name,omitempty"`
	Source         string   `json:"source"`
	MediaPaths     []string `json:"media_paths"`
	Mode           string   `json:"mode"`
}

// OpenJob enqueues a pending resolve job. The project may be a concrete
// project name, or one of the deferred targets that let the agent create or
// pick a project on its side.
func (h *ResolveHandler) OpenJob(w http.ResponseWriter, r *http.Request) {
	var payload openJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}

	if payload.Mode == "" {
		payload.Mode = models.ResolveModeImport
	}
	if payload.Mode != models.ResolveModeImport && payload.Mode != models.ResolveModeReveal {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "mode must be 'import' or 'reveal_in_explorer'")
		return
	}
	if len(payload.MediaPaths) == 0 {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "media_paths cannot be empty")
		return
	}
	cleaned := make([]string, 0, len(payload.MediaPaths))
	for _, raw := range payload.MediaPaths {
		rel, err := storage.ValidateRelativePath(raw)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		cleaned = append(cleaned, rel)
	}

	source, err := h.Registry.Require(payload.Source, false)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, sources.ErrNotFound) && !errors.Is(err, sources.ErrDisabled) {
			status = http.StatusBadRequest
		}
		WriteAPIError(w, status, codeForStatus(status), err.Error())
		return
	}

	switch payload.Project {
	case "":
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "project is required")
		return
	case models.ResolveTargetNew:
		if payload.NewProjectName == nil || *payload.NewProjectName == "" {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, "new_project_name is required for the __new__ target")
			return
		}
		if _, err := storage.ValidateProjectName(*payload.NewProjectName); err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
	case models.ResolveTargetSelect:
		// the agent picks the project; nothing to validate here
	default:
		if _, err := storage.ValidateProjectName(payload.Project); err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
	}

	job := &models.ResolveJob{
		ID:             uuid.New().String(),
		Project:        payload.Project,
		NewProjectName: payload.NewProjectName,
		Source:         source.Name,
		Mode:           payload.Mode,
	}
	if err := job.SetMediaPaths(cleaned); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if err := h.Jobs.Create(job); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	// concrete project targets get the enqueue recorded on their ledger;
	// deferred targets have no ledger to write to yet
	if job.Project != models.ResolveTargetNew && job.Project != models.ResolveTargetSelect && source.Accessible() {
		project := storage.NewProject(job.Project, source.Name, source.Root)
		if project.Exists() {
			if err := storage.AppendEvent(project, storage.EventResolveJobOpened, map[string]interface{}{
				"job_id":      job.ID,
				"mode":        job.Mode,
				"media_count": len(cleaned),
			}); err != nil {
				log.Printf("resolve: failed to append event for %s: %v", job.Project, err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, jobView(job))
}

// GetJob returns a job by id.
func (h *ResolveHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetByID(chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "resolve job not found")
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// ListJobs returns jobs filtered by status, defaulting to pending.
func (h *ResolveHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.ResolveJobPending
	}
	switch status {
	case models.ResolveJobPending, models.ResolveJobClaimed, models.ResolveJobCompleted, models.ResolveJobFailed:
	default:
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "unknown status '"+status+"'")
		return
	}

	jobs, err := h.Jobs.ListByStatus(status)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	views := make([]map[string]interface{}, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

type claimJobsPayload struct {
	Limit     int    `json:"limit"`
	ClaimedBy string `json:"claimed_by"`
}

// ClaimJobs hands up to limit pending jobs to the polling agent, oldest
// first. Two concurrent claimants never receive the same job.
func (h *ResolveHandler) ClaimJobs(w http.ResponseWriter, r *http.Request) {
	var payload claimJobsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if payload.ClaimedBy == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "claimed_by is required")
		return
	}

	jobs, err := h.Jobs.ClaimNext(payload.Limit, payload.ClaimedBy)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	views := make([]map[string]interface{}, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

// CompleteJob marks a claimed job completed.
func (h *ResolveHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	h.finishJob(w, r, func(id string) error { return h.Jobs.Complete(id) })
}

type failJobPayload struct {
	Error string `json:"error"`
}

// FailJob marks a claimed job failed with the agent's reported reason.
func (h *ResolveHandler) FailJob(w http.ResponseWriter, r *http.Request) {
	var payload failJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if payload.Error == "" {
		payload.Error = "unspecified failure"
	}
	h.finishJob(w, r, func(id string) error { return h.Jobs.Fail(id, payload.Error) })
}

func (h *ResolveHandler) finishJob(w http.ResponseWriter, r *http.Request, transition func(id string) error) {
	id := chi.URLParam(r, "job_id")
	if err := transition(id); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "resolve job not found")
		case errors.Is(err, repository.ErrInvalidJobState):
			WriteAPIError(w, http.StatusConflict, CodeConflict, err.Error())
		default:
			WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		}
		return
	}

	job, err := h.Jobs.GetByID(id)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// jobView renders a job with its media paths decoded.
func jobView(job *models.ResolveJob) map[string]interface{} {
	paths, err := job.MediaPaths()
	if err != nil {
		log.Printf("resolve: %v", err)
		paths = nil
	}
	view := map[string]interface{}{
		"id":          job.ID,
		"project":     job.Project,
		"source":      job.Source,
		"media_paths": paths,
		"mode":        job.Mode,
		"status":      job.Status,
		"created_at":  job.CreatedAt,
	}
	if job.NewProjectName != nil {
		view["new_project_name"] = *job.NewProjectName
	}
	if job.ClaimedBy != nil {
		view["claimed_by"] = *job.ClaimedBy
	}
	if job.ClaimedAt != nil {
		view["claimed_at"] = *job.ClaimedAt
	}
	if job.DoneAt != nil {
		view["done_at"] = *job.DoneAt
	}
	if job.FailedAt != nil {
		view["failed_at"] = *job.FailedAt
	}
	if job.Error != nil {
		view["error"] = *job.Error
	}
	return view
}
