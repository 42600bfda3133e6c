package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// UserContextKey is the context key for storing the authenticated user id
	UserContextKey contextKey = "user"

	// UserIDHeader carries the authenticated user id, set by the API gateway
	// after it validates the client's session. The service trusts it; the
	// gateway is the only ingress.
	UserIDHeader = "X-User-ID"
)

// WithUser extracts the gateway-authenticated user id and adds it to the
// request context. Optional - requests without the header pass through.
func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			respondUnauthorized(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser ensures the request carries an authenticated user id.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserID(r.Context()); !ok {
			respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID retrieves the authenticated user id from the context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserContextKey).(uuid.UUID)
	return id, ok
}
