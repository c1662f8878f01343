package handler

import (
	"net/http"
	"sort"
	"time"

	mw "github.com/szabogaliakos/email-insights-sub001/internal/api/middleware"
	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
)

type contactsResponse struct {
	Owner        string    `json:"owner"`
	Senders      []string  `json:"senders"`
	Recipients   []string  `json:"recipients"`
	AddressCount int       `json:"address_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewContactsHandler returns the handler for GET /api/v1/contacts: the
// owner's contact snapshot as built so far. A mailbox that was never
// scanned reads as an empty snapshot, not an error.
func NewContactsHandler(docs docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		snap, _, err := docstore.LoadSnapshot(r.Context(), docs, owner)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load contacts", nil)
			return
		}

		senders := append([]string{}, snap.Senders...)
		recipients := append([]string{}, snap.Recipients...)
		sort.Strings(senders)
		sort.Strings(recipients)

		response.JSON(w, contactsResponse{
			Owner:        owner,
			Senders:      senders,
			Recipients:   recipients,
			AddressCount: snap.AddressCount(),
			UpdatedAt:    snap.UpdatedAt,
		})
	}
}
