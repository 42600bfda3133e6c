package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request correlation id. The gateway sets
	// it on client traffic; store webhooks arrive without one.
	RequestIDHeader = "X-Request-ID"

	// RequestIDContextKey is the context key for the request id
	RequestIDContextKey contextKey = "request_id"
)

// RequestID ensures every request has a correlation id, trusting an
// incoming X-Request-ID and minting one otherwise. The id is echoed on the
// response and threaded through the context for log lines.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request id from the context, empty if unset.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}
