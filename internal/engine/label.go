package engine

import (
	"context"
	"fmt"

	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// labelBatch lists one page of messages matching the rule criteria and
// applies the rule's labels to each. The query already filters, so every
// listed message counts as a match. Per-message label failures are
// logged and skipped, never retried: the page still advances so one bad
// message cannot wedge the job.
func (e *Engine) labelBatch(ctx context.Context, job *models.Job, credential string) (bool, error) {
	if job.RuleCriteria == nil || job.RuleCriteria.Empty() {
		return false, fmt.Errorf("%w: label job %s has no rule criteria", mail.ErrPermanent, job.ID)
	}

	addIDs, err := e.resolveLabels(ctx, credential, job.Owner, job.LabelIDs)
	if err != nil {
		return false, err
	}
	var removeIDs []string
	if job.RemoveFromInbox {
		removeIDs = []string{mail.InboxLabelID}
	}

	page, err := e.source.ListMessages(ctx, mail.ListRequest{
		Credential: credential,
		Query:      e.queries.BuildRuleQuery(*job.RuleCriteria),
		Cursor:     job.CursorString(),
		MaxResults: e.batchSize,
	})
	if err != nil {
		return false, err
	}

	for _, m := range page.Messages {
		if err := e.labeler.ModifyLabels(ctx, credential, m.ID, addIDs, removeIDs); err != nil {
			e.logger.Warn("skipping message after label failure",
				"job_id", job.ID, "message_id", m.ID, "error", err)
			continue
		}
		job.LabelsApplied++
	}
	job.MessagesProcessed += len(page.Messages)
	job.MessagesMatched += len(page.Messages)

	return advanceCursor(job, page), nil
}

// resolveLabels maps the job's label names or ids to concrete label ids,
// creating missing labels on first use. Resolutions are cached per owner
// for the lifetime of the engine.
func (e *Engine) resolveLabels(ctx context.Context, credential, owner string, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		key := owner + "\x00" + name

		e.mu.Lock()
		id, ok := e.labels[key]
		e.mu.Unlock()
		if ok {
			ids = append(ids, id)
			continue
		}

		id, err := e.labeler.ResolveOrCreateLabel(ctx, credential, name)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.labels[key] = id
		e.mu.Unlock()
		ids = append(ids, id)
	}
	return ids, nil
}
