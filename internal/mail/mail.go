// Package mail is the boundary to the remote mailbox API: listing
// messages page by page given a cursor, and mutating labels. Two sources
// exist — the Gmail-style HTTP client in this package and the IMAP source
// in imapsource — sharing the same contract.
package mail

import "context"

// Message is one mailbox item as the engine sees it. The header fields
// hold raw RFC 5322 address lists; empty or malformed values are
// tolerated everywhere downstream.
type Message struct {
	ID      string
	From    string
	To      string
	Cc      string
	Bcc     string
	Subject string
}

// ListRequest asks for one page of messages.
type ListRequest struct {
	// Credential is the owner's opaque mail API token.
	Credential string
	// Query filters messages; empty lists the whole mailbox.
	Query string
	// Cursor is the page token from the previous page; empty starts from
	// the beginning (newest first).
	Cursor string
	// MaxResults bounds the page size.
	MaxResults int
	// IncludeHeaders requests address headers per message. Listing ids
	// only is cheaper and enough for label jobs.
	IncludeHeaders bool
}

// Page is one bounded batch of list results.
type Page struct {
	Messages []Message
	// NextCursor is the continuation marker; empty means no more pages.
	NextCursor string
	// ResultSizeEstimate is the API's estimate of total matches, 0 if
	// unknown. Captured once per scan job for progress estimation.
	ResultSizeEstimate int
}

// Source lists mailbox messages page by page.
type Source interface {
	ListMessages(ctx context.Context, req ListRequest) (*Page, error)
}

// Labeler mutates labels on messages.
type Labeler interface {
	ModifyLabels(ctx context.Context, credential, messageID string, addLabelIDs, removeLabelIDs []string) error
	// ResolveOrCreateLabel resolves a label name (or id) to a label id,
	// creating the label only when no existing one matches by name.
	ResolveOrCreateLabel(ctx context.Context, credential, name string) (string, error)
}

// InboxLabelID is the well-known id of the inbox label, removed when a
// rule archives its matches.
const InboxLabelID = "INBOX"
