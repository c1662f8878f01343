package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/engine"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// batchProcessor is the slice of the engine the worker needs.
type batchProcessor interface {
	ProcessBatch(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// subscriber is the slice of Bus the worker needs.
type subscriber interface {
	SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error)
}

// Worker consumes continuation triggers and runs one batch per message.
type Worker struct {
	bus    subscriber
	proc   batchProcessor
	logger *slog.Logger

	sub *nats.Subscription
}

// NewWorker creates a Worker consuming SubjectContinue.
func NewWorker(bus subscriber, proc batchProcessor, logger *slog.Logger) *Worker {
	return &Worker{bus: bus, proc: proc, logger: logger}
}

// Start subscribes and begins processing. Returns once the subscription
// is established; messages are handled on the NATS delivery goroutine.
func (w *Worker) Start() error {
	sub, err := w.bus.SubscribeJSON(SubjectContinue, w.handle)
	if err != nil {
		return err
	}
	w.sub = sub
	w.logger.Info("continuation worker started", "subject", SubjectContinue)
	return nil
}

// Stop drains the subscription, finishing in-flight batches.
func (w *Worker) Stop() {
	if w.sub != nil {
		_ = w.sub.Drain()
	}
}

func (w *Worker) handle(ctx context.Context, data []byte) {
	var c engine.Continuation
	if err := json.Unmarshal(data, &c); err != nil {
		w.logger.Error("dropping malformed continuation", "error", err)
		return
	}

	job, err := w.proc.ProcessBatch(ctx, c.JobID)
	switch {
	case err == nil:
		w.logger.Info("batch processed",
			"job_id", c.JobID,
			"status", job.Status,
			"messages_processed", job.MessagesProcessed)
	case errors.Is(err, engine.ErrStaleJob):
		// Another trigger won the race. Its result is already committed.
		w.logger.Info("stale batch dropped", "job_id", c.JobID)
	case mail.IsTransient(err), errors.Is(err, docstore.ErrUnavailable):
		// The engine already counted the retry and rescheduled.
		w.logger.Warn("transient batch failure",
			"job_id", c.JobID, "attempt", c.Attempt, "error", err)
	default:
		w.logger.Error("batch failed", "job_id", c.JobID, "error", err)
	}
}
