package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/attendance-engine/jobs"
)

// =============================================================================
// JOB HANDLERS
// =============================================================================

// ListJobs returns the status of every job.
// GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var out []jobs.Status
	for _, kind := range h.Jobs.Kinds() {
		st, err := h.Jobs.Status(kind)
		if err != nil {
			writeDomainError(w, "Failed to get job status", err)
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetJob returns the status of one job.
// GET /api/jobs/{kind}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	st, err := h.Jobs.Status(jobs.Kind(chi.URLParam(r, "kind")))
	if err != nil {
		writeDomainError(w, "Unknown job", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// StartJob schedules a job.
// POST /api/jobs/{kind}/start
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(chi.URLParam(r, "kind"))
	if err := h.Jobs.Start(kind); err != nil {
		writeDomainError(w, "Failed to start job", err)
		return
	}
	h.GetJob(w, r)
}

// StopJob unschedules a job. A run in flight completes.
// POST /api/jobs/{kind}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(chi.URLParam(r, "kind"))
	if err := h.Jobs.Stop(kind); err != nil {
		writeDomainError(w, "Failed to stop job", err)
		return
	}
	h.GetJob(w, r)
}

// RunJob runs a job now and returns its summary. Partial failures inside
// the batch still answer 200 with the counts.
// POST /api/jobs/{kind}/run?subtype=
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(chi.URLParam(r, "kind"))
	subtype := r.URL.Query().Get("subtype")

	sum, err := h.Jobs.RunNow(r.Context(), kind, subtype)
	if err != nil && sum.StartedAt.IsZero() {
		// rejected before running
		writeDomainError(w, "Job not run", err)
		return
	}
	if err != nil {
		h.logger.Printf("[Jobs] %s %s finished with error: %v", kind, subtype, err)
	}
	writeJSON(w, http.StatusOK, sum)
}
