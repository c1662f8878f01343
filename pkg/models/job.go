package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind distinguishes the two long-running operations the engine drives.
type JobKind string

const (
	JobKindScan             JobKind = "scan"
	JobKindLabelApplication JobKind = "label_application"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindScan || k == JobKindLabelApplication
}

// JobStatus is the lifecycle state of a job. Transitions between statuses
// are validated by the jobs package; nothing else mutates the status field.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
// Terminal jobs are immutable except for deletion.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// RuleCriteria are the immutable match parameters of a label-application
// rule. Fields combine with AND; Query carries free-text terms.
type RuleCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
}

// Empty reports whether no criterion is set.
func (c RuleCriteria) Empty() bool {
	return c.From == "" && c.To == "" && c.Subject == "" && c.Query == ""
}

// Job is one persisted long-running mailbox operation and its progress.
// The row is the single source of truth: a job in flight holds everything
// needed to resume from its cursor after any number of invocations.
//
// Counter semantics: MessagesProcessed and AddressesFound apply to scan
// jobs; MessagesProcessed, MessagesMatched and LabelsApplied to
// label-application jobs. Clients must tolerate kind-specific fields being
// absent.
type Job struct {
	ID     uuid.UUID `db:"id"     json:"id"`
	Owner  string    `db:"owner"  json:"owner"`
	Kind   JobKind   `db:"kind"   json:"kind"`
	Status JobStatus `db:"status" json:"status"`

	// Cursor is the opaque continuation marker from the mail API. Nil means
	// "start from the beginning". Only a successful batch commit advances it.
	Cursor *string `db:"cursor" json:"cursor,omitempty"`

	MessagesProcessed int `db:"messages_processed" json:"messages_processed"`
	AddressesFound    int `db:"addresses_found"    json:"addresses_found,omitempty"`
	MessagesMatched   int `db:"messages_matched"   json:"messages_matched,omitempty"`
	LabelsApplied     int `db:"labels_applied"     json:"labels_applied,omitempty"`

	RuleCriteria    *RuleCriteria `db:"rule_criteria"     json:"rule_criteria,omitempty"`
	LabelIDs        []string      `db:"label_ids"         json:"label_ids,omitempty"`
	FilterID        *string       `db:"filter_id"         json:"filter_id,omitempty"`
	RemoveFromInbox bool          `db:"remove_from_inbox" json:"remove_from_inbox,omitempty"`

	// EstimatedTotal is the mailbox size estimate reported by the mail API
	// on the first scan page. Feeds the remaining-time estimate.
	EstimatedTotal *int `db:"estimated_total" json:"estimated_total,omitempty"`

	Error      *string `db:"error"       json:"error,omitempty"`
	RetryCount int     `db:"retry_count" json:"retry_count"`

	// Version increments on every committed batch. Batch commits are
	// conditional on the version read at batch start, so a duplicate or
	// redelivered trigger that lost the race cannot double-count.
	Version int `db:"version" json:"-"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CursorString returns the cursor value or "" when unset.
func (j *Job) CursorString() string {
	if j.Cursor == nil {
		return ""
	}
	return *j.Cursor
}
