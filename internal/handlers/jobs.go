package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"media-gallery/internal/transform"
)

// maxJobWait bounds how long a waiting process-image request blocks.
const maxJobWait = 2 * time.Minute

type processRequest struct {
	ImageID    string            `json:"imageId"`
	Operations []json.RawMessage `json:"operations"`
	Wait       bool              `json:"wait"`
}

// ProcessImage handles POST /api/process-image. Without wait it answers 202
// with the queued job. With wait it blocks until the job finishes and
// answers 200 with the output, or 422 carrying the job error.
func (h *Handlers) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ops, err := transform.DecodeOperations(req.Operations)
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.queue.Submit(r.Context(), req.ImageID, ops)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Wait {
		writeSuccess(w, http.StatusAccepted, job)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), maxJobWait)
	defer cancel()

	job, err = h.queue.Wait(ctx, job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if job.Status == transform.StatusFailed {
		writeFailure(w, http.StatusUnprocessableEntity, job.Error, job)
		return
	}
	writeSuccess(w, http.StatusOK, job)
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, job)
}
