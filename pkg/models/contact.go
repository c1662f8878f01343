package models

import "time"

// ContactSnapshot is the denormalized result of a scan job: the
// deduplicated sender and recipient addresses seen so far. It lives in the
// document store keyed by owner, separate from the job row — the job
// tracks progress, the snapshot is the queryable result.
type ContactSnapshot struct {
	Owner      string    `json:"owner"`
	Senders    []string  `json:"senders"`
	Recipients []string  `json:"recipients"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AddressCount returns the size of the combined sender ∪ recipient set.
func (s *ContactSnapshot) AddressCount() int {
	seen := make(map[string]struct{}, len(s.Senders)+len(s.Recipients))
	for _, a := range s.Senders {
		seen[a] = struct{}{}
	}
	for _, a := range s.Recipients {
		seen[a] = struct{}{}
	}
	return len(seen)
}
