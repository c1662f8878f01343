package engine

import (
	"context"
	"time"

	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// scanBatch lists one page of the mailbox with headers and merges every
// sender and recipient address into the owner's contact snapshot. The
// snapshot is written before the job commit; because the merge is a set
// union, replaying the same page after a crash changes nothing.
func (e *Engine) scanBatch(ctx context.Context, job *models.Job, credential string) (bool, error) {
	page, err := e.source.ListMessages(ctx, mail.ListRequest{
		Credential:     credential,
		Cursor:         job.CursorString(),
		MaxResults:     e.batchSize,
		IncludeHeaders: true,
	})
	if err != nil {
		return false, err
	}

	if job.EstimatedTotal == nil && page.ResultSizeEstimate > 0 {
		total := page.ResultSizeEstimate
		job.EstimatedTotal = &total
	}

	snap, _, err := docstore.LoadSnapshot(ctx, e.docs, job.Owner)
	if err != nil {
		return false, err
	}

	senders := toSet(snap.Senders)
	recipients := toSet(snap.Recipients)
	for _, m := range page.Messages {
		for _, a := range mail.SenderAddresses(m) {
			senders[a] = struct{}{}
		}
		for _, a := range mail.RecipientAddresses(m) {
			recipients[a] = struct{}{}
		}
	}
	snap.Senders = fromSet(senders)
	snap.Recipients = fromSet(recipients)
	snap.UpdatedAt = time.Now().UTC()

	if err := docstore.SaveSnapshot(ctx, e.docs, snap); err != nil {
		return false, err
	}

	job.MessagesProcessed += len(page.Messages)
	job.AddressesFound = snap.AddressCount()

	return advanceCursor(job, page), nil
}

func toSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}
