package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/engine"
	"github.com/szabogaliakos/email-insights-sub001/internal/jobs"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// BatchProcessor is the slice of the engine the process handler needs.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// NewStartJobHandler returns the handler for POST /api/v1/jobs/{jobID}/start.
// The job moves to running and the first batch is enqueued.
func NewStartJobHandler(st JobStore, enq engine.Enqueuer) http.HandlerFunc {
	return transitionHandler(st, jobs.EventStart, func(r *http.Request, job *models.Job) {
		enqueueNext(r.Context(), enq, job)
	})
}

// NewPauseJobHandler returns the handler for POST /api/v1/jobs/{jobID}/pause.
// The batch in flight, if any, finishes and commits; no further batch runs.
func NewPauseJobHandler(st JobStore) http.HandlerFunc {
	return transitionHandler(st, jobs.EventPause, nil)
}

// NewResumeJobHandler returns the handler for POST /api/v1/jobs/{jobID}/resume.
// Work restarts from the committed cursor, not from the beginning.
func NewResumeJobHandler(st JobStore, enq engine.Enqueuer) http.HandlerFunc {
	return transitionHandler(st, jobs.EventResume, func(r *http.Request, job *models.Job) {
		enqueueNext(r.Context(), enq, job)
	})
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// Cancelling an already-cancelled job is a no-op success.
func NewCancelJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}
		if job.Status == models.JobStatusCancelled {
			response.JSON(w, jobView(job, time.Now().UTC()))
			return
		}
		applyTransition(w, r, st, job, jobs.EventCancel, nil)
	}
}

// NewDeleteJobHandler returns the handler for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}
		if err := st.DeleteJob(r.Context(), job.ID); err != nil {
			switch {
			case errors.Is(err, store.ErrJobActive):
				response.Error(w, http.StatusConflict, "JOB_ACTIVE",
					"Job may be running; pause or cancel it first", nil)
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to delete job", nil)
			}
			return
		}
		response.NoContent(w)
	}
}

// NewProcessJobHandler returns the handler for POST /api/v1/jobs/{jobID}/process.
// It runs one batch synchronously, the manual escape hatch when the
// continuation trigger was lost.
func NewProcessJobHandler(st JobStore, proc BatchProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}

		processed, err := proc.ProcessBatch(r.Context(), job.ID)
		switch {
		case err == nil:
			response.JSON(w, jobView(processed, time.Now().UTC()))
		case errors.Is(err, engine.ErrStaleJob):
			response.Error(w, http.StatusConflict, "STALE_BATCH",
				"Another trigger committed this batch first", nil)
		case errors.Is(err, jobs.ErrNotAuthenticated):
			response.Error(w, http.StatusUnauthorized, "NOT_AUTHENTICATED",
				"No valid mailbox credential for this account", nil)
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		case mail.IsTransient(err):
			response.Error(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE",
				"The mail API is temporarily unavailable; the batch will be retried", nil)
		case errors.Is(err, docstore.ErrUnavailable):
			response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
				"The contact store is temporarily unavailable; the batch will be retried", nil)
		case processed != nil && processed.Status == models.JobStatusFailed:
			// The failure is recorded on the job; report it as the result.
			response.JSON(w, jobView(processed, time.Now().UTC()))
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Batch processing failed", nil)
		}
	}
}

// transitionHandler builds a handler that applies one lifecycle event and
// persists the result.
func transitionHandler(st JobStore, ev jobs.Event, after func(*http.Request, *models.Job)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}
		applyTransition(w, r, st, job, ev, after)
	}
}

func applyTransition(w http.ResponseWriter, r *http.Request, st JobStore, job *models.Job, ev jobs.Event, after func(*http.Request, *models.Job)) {
	if err := jobs.Transition(job, ev, time.Now().UTC()); err != nil {
		switch {
		case errors.Is(err, jobs.ErrAlreadyTerminal):
			response.Error(w, http.StatusConflict, "JOB_TERMINAL",
				"Job is already in a terminal status", nil)
		case errors.Is(err, jobs.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to update job", nil)
		}
		return
	}

	if err := st.UpdateJob(r.Context(), job); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			response.Error(w, http.StatusConflict, "CONFLICT",
				"Job was modified concurrently; retry", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to update job", nil)
		return
	}

	if after != nil {
		after(r, job)
	}
	response.Accepted(w, jobView(job, time.Now().UTC()))
}

func enqueueNext(ctx context.Context, enq engine.Enqueuer, job *models.Job) {
	c := engine.Continuation{
		JobID:  job.ID,
		Owner:  job.Owner,
		Cursor: job.CursorString(),
	}
	if err := enq.Enqueue(ctx, c); err != nil {
		// The job stays running; a manual process call picks it up.
		slog.Error("failed to enqueue batch", "job_id", job.ID, "error", err)
	}
}
