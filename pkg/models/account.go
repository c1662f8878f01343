package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a connected mailbox. Email doubles as the owner key for jobs
// and snapshots. Credential is the opaque bearer token for the mail API;
// token acquisition happens outside this service.
type Account struct {
	ID         uuid.UUID `db:"id"         json:"id"`
	Email      string    `db:"email"      json:"email"`
	Credential string    `db:"credential" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
