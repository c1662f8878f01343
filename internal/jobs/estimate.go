package jobs

import (
	"time"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// Elapsed returns how long the job has been running: now minus StartedAt,
// or zero if the job has not started. For terminal jobs the clock stops at
// CompletedAt.
func Elapsed(j *models.Job, now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if end.Before(*j.StartedAt) {
		return 0
	}
	return end.Sub(*j.StartedAt)
}

// EstimatedRemaining projects how long the job still needs, extrapolating
// observed throughput over the remaining items. It is defined only for
// scan jobs with a known total estimate and at least one processed
// message; ok is false whenever there is not enough data. Never divides
// by zero and never errors.
func EstimatedRemaining(j *models.Job, now time.Time) (time.Duration, bool) {
	if j.Kind != models.JobKindScan {
		return 0, false
	}
	if j.EstimatedTotal == nil || j.MessagesProcessed <= 0 {
		return 0, false
	}
	remaining := *j.EstimatedTotal - j.MessagesProcessed
	if remaining <= 0 {
		return 0, true
	}
	elapsed := Elapsed(j, now)
	if elapsed <= 0 {
		return 0, false
	}
	per := elapsed / time.Duration(j.MessagesProcessed)
	return per * time.Duration(remaining), true
}
