package docstore

import (
	"fmt"

	"github.com/google/uuid"
)

func SnapshotKey(owner string) string {
	return fmt.Sprintf("contacts:%s", owner)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// ContinuationKey marks one (job, cursor) continuation as enqueued so a
// crashed-and-retried commit does not enqueue the same batch twice.
func ContinuationKey(jobID uuid.UUID, cursor string) string {
	return fmt.Sprintf("continuation:%s:%s", jobID, cursor)
}
