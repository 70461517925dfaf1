package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// userHeader scopes management API requests to one owner.
const userHeader = "X-Agentd-User"

// authMiddleware validates the Bearer token using constant-time
// comparison.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
				if constantTimeEqual(after, token) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// requireUser rejects agent API requests without an owner header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(userHeader) == "" {
			writeError(w, http.StatusBadRequest, "missing "+userHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestUser returns the owner the request is scoped to.
func requestUser(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
