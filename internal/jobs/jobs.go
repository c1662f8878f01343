// Package jobs owns the job lifecycle: the status transition table, the
// timestamps those transitions set, and progress estimation. Everything
// here is pure — persistence is the store's problem.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

var (
	// ErrInvalidTransition is returned when a requested lifecycle change
	// is not allowed from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrAlreadyTerminal is returned for any transition requested on a
	// completed, cancelled or failed job.
	ErrAlreadyTerminal = errors.New("job already in terminal status")

	// ErrNotAuthenticated is returned when the job's owner has no usable
	// mailbox credential. No job state is touched.
	ErrNotAuthenticated = errors.New("no valid mailbox credential")
)

// Event is a requested lifecycle change.
type Event string

const (
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventCancel   Event = "cancel"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// validTransitions maps each event to the statuses it may fire from.
var validTransitions = map[Event][]models.JobStatus{
	EventStart:    {models.JobStatusPending},
	EventPause:    {models.JobStatusRunning},
	EventResume:   {models.JobStatusPaused},
	EventCancel:   {models.JobStatusPending, models.JobStatusRunning, models.JobStatusPaused},
	EventComplete: {models.JobStatusRunning},
	EventFail:     {models.JobStatusRunning},
}

// Transition applies ev to j at time now, updating status and lifecycle
// timestamps. On error the job is left byte-for-byte unchanged.
//
// StartedAt is set once, on the first transition into running. CompletedAt
// is set once, on the terminal transition. Cursor and counters are never
// touched here.
func Transition(j *models.Job, ev Event, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, j.Status)
	}

	allowed, ok := validTransitions[ev]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	valid := false
	for _, s := range allowed {
		if s == j.Status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, ev)
	}

	switch ev {
	case EventStart:
		j.Status = models.JobStatusRunning
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
		j.RetryCount = 0
	case EventPause:
		j.Status = models.JobStatusPaused
	case EventResume:
		j.Status = models.JobStatusRunning
	case EventCancel:
		j.Status = models.JobStatusCancelled
		t := now
		j.CompletedAt = &t
	case EventComplete:
		j.Status = models.JobStatusCompleted
		t := now
		j.CompletedAt = &t
	case EventFail:
		j.Status = models.JobStatusFailed
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// Deletable reports whether the job may be deleted: terminal or pending,
// never while running or paused.
func Deletable(j *models.Job) bool {
	return j.Status == models.JobStatusPending || j.Status.IsTerminal()
}
