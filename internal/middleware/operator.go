package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireOperator guards admin endpoints with a static bearer token.
// Operator tooling is internal; a shared token rotated through config is
// sufficient and keeps the service free of session state.
func RequireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondForbidden(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				respondUnauthorized(w, r)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondForbidden(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
