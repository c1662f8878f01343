package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	ownerKey     contextKey = "owner"
	accountIDKey contextKey = "account_id"
	keyPrefixKey contextKey = "key_prefix"
)

// SetOwner records the authenticated account's email on the context.
// Exported so handler tests can authenticate requests directly.
func SetOwner(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, ownerKey, email)
}

// GetOwner returns the authenticated owner email.
func GetOwner(r *http.Request) (string, bool) {
	owner, ok := r.Context().Value(ownerKey).(string)
	return owner, ok
}

func setAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// GetAccountID returns the authenticated account id.
func GetAccountID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(accountIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}
