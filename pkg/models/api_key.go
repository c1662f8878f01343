package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates requests and resolves to the mailbox account that
// scopes them. Raw keys are shown once at creation; only the bcrypt hash
// is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	AccountID  uuid.UUID  `db:"account_id"   json:"account_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}
