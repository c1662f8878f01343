package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
)

const keyPrefixLen = 8

// Auth authenticates requests with bearer API keys. The key resolves to
// an account; the account's email is the owner every job and snapshot is
// scoped to.
type Auth struct {
	store store.Store
}

// NewAuth creates the auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token against stored key hashes and
// sets owner, account id and key prefix on the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" || len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]
		keys, err := a.store.GetAPIKeysByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}

			account, err := a.store.GetAccount(r.Context(), key.AccountID)
			if err != nil {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "API key has no account", nil)
				return
			}

			ctx := SetOwner(r.Context(), account.Email)
			ctx = setAccountID(ctx, account.ID)
			ctx = setKeyPrefix(ctx, prefix)

			go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
