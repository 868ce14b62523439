package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"media-extractor/internal/filesystem"
	"media-extractor/internal/logging"
	"media-extractor/internal/mediatypes"
	"media-extractor/internal/models"
)

const maxRequestBody = 64 << 10

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	URL     string  `json:"url"`
	Bitrate string  `json:"bitrate,omitempty"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
	Mode    string  `json:"mode,omitempty"`
}

// CreateJobResponse is returned by POST /api/jobs.
type CreateJobResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status,omitempty"`
}

// CreateJob registers a job and returns its ID without waiting for work.
// POST /api/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		writeJSONError(w, "url is required", http.StatusBadRequest)
		return
	}

	params := models.Params{
		Bitrate:   req.Bitrate,
		TrimStart: req.Start,
		TrimEnd:   req.End,
		Mode:      models.Mode(req.Mode),
	}

	id, err := h.jobs.CreateJob(r.Context(), req.URL, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := CreateJobResponse{JobID: id}
	if view, err := h.jobs.GetStatus(r.Context(), id); err == nil {
		resp.Status = view.Status
	}

	w.Header().Set("Location", "/api/jobs/"+id)
	writeJSONStatus(w, http.StatusAccepted, resp)
}

// GetJob returns the status view of a job.
// GET /api/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.jobs.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSONStatus(w, http.StatusOK, view)
}

// DownloadArtifact serves the artifact of a completed job. Local files are
// served with range support; remote artifacts are redirected to.
// GET /api/jobs/{id}/download
func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	location, ok, err := h.jobs.GetArtifactLocation(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if !ok {
		switch job.Status {
		case models.StatusCompleted, models.StatusExpired:
			writeJSONError(w, "Artifact is no longer available", http.StatusGone)
		case models.StatusFailed:
			writeJSONError(w, "Job failed: "+job.ErrorMessage, http.StatusConflict)
		default:
			writeJSONError(w, "Artifact is not ready yet", http.StatusConflict)
		}
		return
	}

	if models.IsRemoteLocation(location) {
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	f, err := filesystem.OpenWithRetry(location, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Warn("failed to open artifact of job %s: %v", id, err)
		writeJSONError(w, "Artifact is no longer available", http.StatusGone)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logging.Error("failed to stat artifact of job %s: %v", id, err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	filename := models.DownloadFilename(job.Title, job.Identity)
	w.Header().Set("Content-Type", mediatypes.GetMimeType(filepath.Ext(location)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Cache-Control", "private, max-age="+maxAge(job.ExpiresAt))

	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// RunCleanup triggers a cleanup sweep immediately.
// POST /api/cleanup
func (h *Handlers) RunCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.RunCleanupSweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, report)
}

func maxAge(expires time.Time) string {
	secs := int(time.Until(expires).Seconds())
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs)
}
