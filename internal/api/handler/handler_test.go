package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szabogaliakos/email-insights-sub001/internal/api/handler"
	mw "github.com/szabogaliakos/email-insights-sub001/internal/api/middleware"
	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/engine"
	"github.com/szabogaliakos/email-insights-sub001/internal/jobs"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

type mockJobStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	deleteErr error
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *mockJobStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockJobStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobStore) ListJobsByOwner(_ context.Context, owner string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Owner == owner {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockJobStore) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *job
	cp.Version++
	m.jobs[job.ID] = &cp
	job.Version++
	return nil
}

func (m *mockJobStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

type mockEnqueuer struct {
	mu    sync.Mutex
	queue []engine.Continuation
}

func (m *mockEnqueuer) Enqueue(_ context.Context, c engine.Continuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, c)
	return nil
}

type mockProcessor struct {
	result *models.Job
	err    error
}

func (m *mockProcessor) ProcessBatch(context.Context, uuid.UUID) (*models.Job, error) {
	return m.result, m.err
}

// testRouter mounts the job routes with the owner preauthenticated.
func testRouter(owner string, st *mockJobStore, enq *mockEnqueuer, proc *mockProcessor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(mw.SetOwner(req.Context(), owner)))
		})
	})
	r.Post("/jobs", handler.NewCreateJobHandler(st))
	r.Get("/jobs", handler.NewListJobsHandler(st))
	r.Get("/jobs/{jobID}", handler.NewGetJobHandler(st))
	r.Delete("/jobs/{jobID}", handler.NewDeleteJobHandler(st))
	r.Post("/jobs/{jobID}/start", handler.NewStartJobHandler(st, enq))
	r.Post("/jobs/{jobID}/pause", handler.NewPauseJobHandler(st))
	r.Post("/jobs/{jobID}/resume", handler.NewResumeJobHandler(st, enq))
	r.Post("/jobs/{jobID}/cancel", handler.NewCancelJobHandler(st))
	r.Post("/jobs/{jobID}/process", handler.NewProcessJobHandler(st, proc))
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type jobData struct {
	Data struct {
		ID     uuid.UUID        `json:"id"`
		Status models.JobStatus `json:"status"`
		Kind   models.JobKind   `json:"kind"`
		Cursor string           `json:"cursor"`
		Error  string           `json:"error"`
	} `json:"data"`
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) jobData {
	t.Helper()
	var out jobData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedJob(st *mockJobStore, owner string, kind models.JobKind, status models.JobStatus) *models.Job {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Owner:     owner,
		Kind:      kind,
		Status:    status,
		CreatedAt: now,
	}
	if status != models.JobStatusPending {
		job.StartedAt = &now
	}
	if kind == models.JobKindLabelApplication {
		job.RuleCriteria = &models.RuleCriteria{From: "x@y.com"}
		job.LabelIDs = []string{"L1"}
	}
	_ = st.CreateJob(context.Background(), job)
	return job
}

func TestCreateJob_Scan(t *testing.T) {
	st := newMockJobStore()
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs", map[string]any{"kind": "scan"})
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeJob(t, rec)
	assert.Equal(t, models.JobStatusPending, got.Data.Status)
	assert.Equal(t, models.JobKindScan, got.Data.Kind)
}

func TestCreateJob_RejectsBadRequests(t *testing.T) {
	st := newMockJobStore()
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown kind", map[string]any{"kind": "vacuum"}},
		{"label without criteria", map[string]any{
			"kind": "label_application", "label_ids": []string{"L1"},
		}},
		{"label without labels", map[string]any{
			"kind":          "label_application",
			"rule_criteria": map[string]string{"from": "x@y.com"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateJob_DuplicateActiveConflicts(t *testing.T) {
	st := newMockJobStore()
	seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs", map[string]any{"kind": "scan"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A terminal job of the same kind does not block a new one.
	st2 := newMockJobStore()
	seedJob(st2, "o@x.com", models.JobKindScan, models.JobStatusCompleted)
	h2 := testRouter("o@x.com", st2, &mockEnqueuer{}, &mockProcessor{})
	rec = doJSON(t, h2, http.MethodPost, "/jobs", map[string]any{"kind": "scan"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetJob_OtherOwnerReadsAsNotFound(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "someone-else@x.com", models.JobKindScan, models.JobStatusRunning)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodGet, "/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartJob_EnqueuesFirstBatch(t *testing.T) {
	st := newMockJobStore()
	enq := &mockEnqueuer{}
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusPending)
	h := testRouter("o@x.com", st, enq, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := decodeJob(t, rec)
	assert.Equal(t, models.JobStatusRunning, got.Data.Status)
	require.Len(t, enq.queue, 1)
	assert.Equal(t, job.ID, enq.queue[0].JobID)
	assert.Empty(t, enq.queue[0].Cursor)
}

func TestStartJob_RunningConflicts(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseResume_RoundTripsCursor(t *testing.T) {
	st := newMockJobStore()
	enq := &mockEnqueuer{}
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	cursor := "page-7"
	job.Cursor = &cursor
	require.NoError(t, st.UpdateJob(context.Background(), job))
	h := testRouter("o@x.com", st, enq, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/pause", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.JobStatusPaused, decodeJob(t, rec).Data.Status)

	rec = doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/resume", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.JobStatusRunning, decodeJob(t, rec).Data.Status)

	require.Len(t, enq.queue, 1)
	assert.Equal(t, "page-7", enq.queue[0].Cursor, "resume continues from the committed cursor")
}

func TestPauseJob_PendingConflicts(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusPending)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelJob_Idempotent(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.JobStatusCancelled, decodeJob(t, rec).Data.Status)
}

func TestCancelJob_CompletedConflicts(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusCompleted)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteJob(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusCompleted)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodDelete, "/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteJob_ActiveConflicts(t *testing.T) {
	st := newMockJobStore()
	st.deleteErr = store.ErrJobActive
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{})

	rec := doJSON(t, h, http.MethodDelete, "/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessJob_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		procErr    error
		wantStatus int
	}{
		{"stale batch", fmt.Errorf("%w: job x", engine.ErrStaleJob), http.StatusConflict},
		{"no credential", jobs.ErrNotAuthenticated, http.StatusUnauthorized},
		{"transient upstream", fmt.Errorf("%w: status 503", mail.ErrTransient), http.StatusServiceUnavailable},
		{"docstore outage", fmt.Errorf("%w: load snapshot for o@x.com: refused", docstore.ErrUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMockJobStore()
			job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
			h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{err: tt.procErr})

			rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/process", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestProcessJob_ReturnsUpdatedJob(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	processed := *job
	cursor := "page-2"
	processed.Cursor = &cursor
	processed.MessagesProcessed = 100
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{result: &processed})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page-2", decodeJob(t, rec).Data.Cursor)
}

func TestProcessJob_FailedJobIsReported(t *testing.T) {
	st := newMockJobStore()
	job := seedJob(st, "o@x.com", models.JobKindScan, models.JobStatusRunning)
	failed := *job
	failed.Status = models.JobStatusFailed
	msg := "status 401"
	failed.Error = &msg
	h := testRouter("o@x.com", st, &mockEnqueuer{}, &mockProcessor{
		result: &failed,
		err:    fmt.Errorf("%w: status 401", mail.ErrPermanent),
	})

	rec := doJSON(t, h, http.MethodPost, "/jobs/"+job.ID.String()+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJob(t, rec)
	assert.Equal(t, models.JobStatusFailed, got.Data.Status)
	assert.Contains(t, got.Data.Error, "401")
}
