// Package handler implements the HTTP endpoints. Each handler is built
// from the narrow interface it needs so tests can mock the store and the
// engine independently.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/szabogaliakos/email-insights-sub001/internal/api/middleware"
	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/jobs"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// JobStore is the slice of the store the job handlers depend on.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, owner string) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

type progress struct {
	ElapsedSeconds            int64    `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *int64   `json:"estimated_remaining_seconds,omitempty"`
	PercentComplete           *float64 `json:"percent_complete,omitempty"`
}

type jobResponse struct {
	*models.Job
	Progress progress `json:"progress"`
}

// jobView decorates the job with derived progress figures.
func jobView(j *models.Job, now time.Time) jobResponse {
	p := progress{ElapsedSeconds: int64(jobs.Elapsed(j, now).Seconds())}
	if remaining, ok := jobs.EstimatedRemaining(j, now); ok {
		secs := int64(remaining.Seconds())
		p.EstimatedRemainingSeconds = &secs
	}
	if j.EstimatedTotal != nil && *j.EstimatedTotal > 0 {
		pct := float64(j.MessagesProcessed) / float64(*j.EstimatedTotal) * 100
		if pct > 100 {
			pct = 100
		}
		p.PercentComplete = &pct
	}
	return jobResponse{Job: j, Progress: p}
}

type createJobRequest struct {
	Kind            string               `json:"kind"`
	RuleCriteria    *models.RuleCriteria `json:"rule_criteria,omitempty"`
	LabelIDs        []string             `json:"label_ids,omitempty"`
	RemoveFromInbox bool                 `json:"remove_from_inbox,omitempty"`
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs.
// A new job is created pending; nothing runs until /start.
func NewCreateJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		kind := models.JobKind(req.Kind)
		if !kind.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"kind must be scan or label_application", nil)
			return
		}
		if kind == models.JobKindLabelApplication {
			if req.RuleCriteria == nil || req.RuleCriteria.Empty() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"label_application requires rule_criteria", nil)
				return
			}
			if len(req.LabelIDs) == 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"label_application requires at least one label", nil)
				return
			}
		}

		existing, err := st.ListJobsByOwner(r.Context(), owner)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to check existing jobs", nil)
			return
		}
		for _, j := range existing {
			if j.Kind == kind && !j.Status.IsTerminal() {
				response.Error(w, http.StatusConflict, "DUPLICATE_JOB",
					"An active job of this kind already exists", map[string]string{
						"job_id": j.ID.String(),
					})
				return
			}
		}

		job := &models.Job{
			ID:              uuid.New(),
			Owner:           owner,
			Kind:            kind,
			Status:          models.JobStatusPending,
			RuleCriteria:    req.RuleCriteria,
			LabelIDs:        req.LabelIDs,
			RemoveFromInbox: req.RemoveFromInbox,
			CreatedAt:       time.Now().UTC(),
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create job", nil)
			return
		}

		response.Created(w, jobView(job, time.Now().UTC()))
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		list, err := st.ListJobsByOwner(r.Context(), owner)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}

		now := time.Now().UTC()
		views := make([]jobResponse, 0, len(list))
		for _, j := range list {
			views = append(views, jobView(j, now))
		}
		response.Collection(w, views, response.CollectionMeta{Total: len(views)})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}
		response.JSON(w, jobView(job, time.Now().UTC()))
	}
}

// ownedJob loads the job from the URL and verifies it belongs to the
// authenticated owner. Another owner's job reads as not found.
func ownedJob(w http.ResponseWriter, r *http.Request, st JobStore) (*models.Job, bool) {
	owner, ok := mw.GetOwner(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return nil, false
	}

	job, err := st.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return nil, false
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to load job", nil)
		return nil, false
	}
	if job.Owner != owner {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	return job, true
}
