package api

import (
	"net/http"
	"strings"

	"github.com/teamtasks/teamtasks/internal/identity"
)

// TokenVerifier resolves a bearer token to a caller identity.
type TokenVerifier interface {
	Verify(token string) (identity.Identity, error)
}

// Authenticate verifies the bearer token and stores the caller identity in
// the request context. Requests without a usable identity get 401.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			id, err := v.Verify(strings.TrimSpace(auth[len(prefix):]))
			if err != nil {
				httpError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects callers whose identity does not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				httpError(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			if id.Role != role {
				httpError(w, http.StatusForbidden, "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userKey returns the authenticated caller's key. Authenticate guarantees
// it is non-empty on routes behind it.
func userKey(r *http.Request) string {
	id, _ := identity.FromContext(r.Context())
	return id.Key()
}
