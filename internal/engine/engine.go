// Package engine drives job execution one bounded batch at a time. Each
// invocation of ProcessBatch reads the job row, performs at most one page
// of mailbox work, and commits the advanced cursor and counters in a
// single conditional write. The job row is the only resumption state:
// a crash between batches loses nothing but the batch in flight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/jobs"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// ErrStaleJob means this batch lost the commit race: another trigger for
// the same job (or a pause/cancel) wrote the row first. The batch result
// is dropped, never merged.
var ErrStaleJob = errors.New("stale batch dropped")

// DefaultBatchSize bounds one page of mailbox work.
const DefaultBatchSize = 100

// DefaultMaxRetries is how many transient failures a job absorbs before
// it is failed. The counter resets on every successful batch.
const DefaultMaxRetries = 3

// Continuation is the trigger message for the next batch of a job. It
// carries the cursor only for observability; the job row is authoritative.
type Continuation struct {
	JobID   uuid.UUID `json:"job_id"`
	Owner   string    `json:"owner"`
	Cursor  string    `json:"cursor,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

// Enqueuer schedules a continuation to fire ProcessBatch again. Delivery
// is at-least-once; the conditional commit makes duplicates harmless.
type Enqueuer interface {
	Enqueue(ctx context.Context, c Continuation) error
}

// Engine executes job batches. Safe for concurrent use.
type Engine struct {
	store      store.Store
	docs       docstore.Store
	source     mail.Source
	labeler    mail.Labeler
	enqueuer   Enqueuer
	queries    mail.QueryBuilder
	batchSize  int
	maxRetries int
	logger     *slog.Logger

	mu     sync.Mutex
	labels map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize overrides the page size for mailbox listing.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxRetries overrides the transient failure budget per batch run.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// New creates an Engine.
func New(st store.Store, docs docstore.Store, source mail.Source, labeler mail.Labeler, enq Enqueuer, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		docs:       docs,
		source:     source,
		labeler:    labeler,
		enqueuer:   enq,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		logger:     logger,
		labels:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch runs one batch for the job and returns the job as committed.
//
// A trigger for a job that is no longer running is a no-op, not an error:
// pause and cancel win over any continuation already in flight. A commit
// that loses the version race returns ErrStaleJob and drops its result.
func (e *Engine) ProcessBatch(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusRunning {
		e.logger.Info("dropping trigger for non-running job",
			"job_id", jobID, "status", job.Status)
		return job, nil
	}

	account, err := e.store.GetAccountByEmail(ctx, job.Owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return job, jobs.ErrNotAuthenticated
		}
		return job, err
	}
	if account.Credential == "" {
		return job, jobs.ErrNotAuthenticated
	}

	work := *job

	var done bool
	switch job.Kind {
	case models.JobKindScan:
		done, err = e.scanBatch(ctx, &work, account.Credential)
	case models.JobKindLabelApplication:
		done, err = e.labelBatch(ctx, &work, account.Credential)
	default:
		return job, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		return e.handleBatchError(ctx, job, err)
	}

	work.Error = nil
	work.RetryCount = 0
	if done {
		if terr := jobs.Transition(&work, jobs.EventComplete, time.Now().UTC()); terr != nil {
			return job, terr
		}
	}

	if cerr := e.store.CommitBatch(ctx, &work); cerr != nil {
		if errors.Is(cerr, store.ErrVersionConflict) {
			e.logger.Warn("batch commit lost version race", "job_id", jobID)
			return job, fmt.Errorf("%w: job %s", ErrStaleJob, jobID)
		}
		return job, cerr
	}

	if done {
		e.logger.Info("job completed",
			"job_id", jobID, "kind", work.Kind,
			"messages_processed", work.MessagesProcessed)
		return &work, nil
	}

	next := Continuation{
		JobID:  work.ID,
		Owner:  work.Owner,
		Cursor: work.CursorString(),
	}
	if eerr := e.enqueuer.Enqueue(ctx, next); eerr != nil {
		// The committed row already holds the cursor; a manual process
		// call or resume picks up exactly where this batch left off.
		e.logger.Error("failed to enqueue continuation",
			"job_id", jobID, "error", eerr)
	}
	return &work, nil
}

// retryable reports whether a batch failure deserves another attempt.
// Document store outages retry like mailbox transients: only the batch
// is lost, never the job.
func retryable(err error) bool {
	return mail.IsTransient(err) || errors.Is(err, docstore.ErrUnavailable)
}

// handleBatchError persists the failure outcome. Retryable errors consume
// the retry budget and reschedule; permanent errors fail the job.
func (e *Engine) handleBatchError(ctx context.Context, job *models.Job, batchErr error) (*models.Job, error) {
	work := *job

	if retryable(batchErr) && work.RetryCount < e.maxRetries {
		work.RetryCount++
		// Error stays nil while the job is running; the message belongs
		// in the log until the budget is spent.
		work.Error = nil
		if uerr := e.store.CommitBatch(ctx, &work); uerr != nil {
			if errors.Is(uerr, store.ErrVersionConflict) {
				return job, fmt.Errorf("%w: job %s", ErrStaleJob, job.ID)
			}
			return job, uerr
		}
		e.logger.Warn("transient batch failure, rescheduling",
			"job_id", job.ID, "attempt", work.RetryCount, "error", batchErr)
		retry := Continuation{
			JobID:   work.ID,
			Owner:   work.Owner,
			Cursor:  work.CursorString(),
			Attempt: work.RetryCount,
		}
		if eerr := e.enqueuer.Enqueue(ctx, retry); eerr != nil {
			e.logger.Error("failed to enqueue retry",
				"job_id", job.ID, "error", eerr)
		}
		return &work, batchErr
	}

	if terr := jobs.Transition(&work, jobs.EventFail, time.Now().UTC()); terr != nil {
		return job, terr
	}
	msg := batchErr.Error()
	work.Error = &msg
	if uerr := e.store.UpdateJob(ctx, &work); uerr != nil {
		if errors.Is(uerr, store.ErrVersionConflict) {
			return job, fmt.Errorf("%w: job %s", ErrStaleJob, job.ID)
		}
		return job, uerr
	}
	e.logger.Error("job failed",
		"job_id", job.ID, "kind", work.Kind, "error", batchErr)
	return &work, batchErr
}

// advanceCursor records the page's continuation marker on the working
// copy and reports whether the job is done.
func advanceCursor(job *models.Job, page *mail.Page) (done bool) {
	if page.NextCursor == "" {
		return true
	}
	c := page.NextCursor
	job.Cursor = &c
	return false
}
