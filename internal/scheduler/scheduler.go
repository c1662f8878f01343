package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/engine"
)

// dedupeTTL bounds how long an enqueued-continuation mark lives. Long
// enough to absorb duplicate triggers, short enough that a lost message
// does not block a manual re-process forever. Delayed triggers wait in
// an in-process timer; if the process dies before the timer fires, the
// mark lingers for the full TTL and resume or a manual process call
// covers that window.
const dedupeTTL = 10 * time.Minute

// publisher is the slice of Bus the scheduler needs.
type publisher interface {
	PublishJSON(subject string, v any) error
}

// NATSScheduler publishes continuation triggers, spacing batches out by a
// fixed delay and deduplicating per (job, cursor, attempt).
type NATSScheduler struct {
	bus    publisher
	docs   docstore.Store
	delay  time.Duration
	logger *slog.Logger
}

// NewNATSScheduler creates a scheduler publishing on SubjectContinue.
func NewNATSScheduler(bus publisher, docs docstore.Store, delay time.Duration, logger *slog.Logger) *NATSScheduler {
	return &NATSScheduler{bus: bus, docs: docs, delay: delay, logger: logger}
}

var _ engine.Enqueuer = (*NATSScheduler)(nil)

// Enqueue schedules one continuation. A second Enqueue for the same job,
// cursor and attempt within the dedupe window is silently dropped; the
// conditional batch commit would reject its result anyway, this just
// saves the mailbox round trip.
func (s *NATSScheduler) Enqueue(ctx context.Context, c engine.Continuation) error {
	mark := docstore.ContinuationKey(c.JobID, fmt.Sprintf("%s#%d", c.Cursor, c.Attempt))
	won, err := s.docs.SetNX(ctx, mark, []byte("1"), dedupeTTL)
	if err != nil {
		// The mark is an optimization. Publish anyway.
		s.logger.Warn("continuation dedupe mark failed",
			"job_id", c.JobID, "error", err)
	} else if !won {
		s.logger.Info("duplicate continuation dropped",
			"job_id", c.JobID, "cursor", c.Cursor, "attempt", c.Attempt)
		return nil
	}

	delay := s.delay * time.Duration(c.Attempt+1)
	if delay <= 0 {
		return s.publish(c, mark)
	}

	time.AfterFunc(delay, func() {
		if err := s.publish(c, mark); err != nil {
			s.logger.Error("delayed continuation publish failed",
				"job_id", c.JobID, "error", err)
		}
	})
	return nil
}

// publish sends the trigger. On failure the dedupe mark is released so
// a later enqueue for the same cursor is not suppressed while no
// message was ever delivered.
func (s *NATSScheduler) publish(c engine.Continuation, mark string) error {
	err := s.bus.PublishJSON(SubjectContinue, c)
	if err == nil {
		return nil
	}
	if derr := s.docs.Delete(context.Background(), mark); derr != nil {
		s.logger.Warn("failed to release continuation mark",
			"job_id", c.JobID, "error", derr)
	}
	return err
}
