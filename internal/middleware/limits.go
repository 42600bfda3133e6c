package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Body size limits. Every payload this service accepts is small JSON: sync
// reports, usage increments, store notifications. Anything bigger is noise.
const (
	KB = 1024
	MB = 1024 * KB

	// DefaultMaxBodySize caps unclassified endpoints (4MB)
	DefaultMaxBodySize = 4 * MB

	// SmallMaxBodySize covers the API and webhook endpoints (1MB)
	SmallMaxBodySize = 1 * MB
)

// MaxBodySize rejects request bodies over the given limit with 413.
// If no size is provided, DefaultMaxBodySize is used.
func MaxBodySize(maxBytes ...int64) func(http.Handler) http.Handler {
	var limit int64
	if len(maxBytes) > 0 {
		limit = maxBytes[0]
	} else {
		limit = DefaultMaxBodySize
	}

	return maxBodySizeWithLimit(limit)
}

func maxBodySizeWithLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				w.Write([]byte(`{"error":{"code":"invalid","message":"Request body too large"}}`))
				return
			}

			// Enforce the limit for chunked bodies with no declared length
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Request timeouts. The slowest legitimate path is a webhook that has to
// re-verify a purchase against a store API before acking.
const (
	// DefaultTimeout bounds every request (30 seconds)
	DefaultTimeout = 30 * time.Second

	// ShortTimeout suits the read path (5 seconds)
	ShortTimeout = 5 * time.Second
)

// Timeout bounds request processing, answering 503 if the handler does not
// finish in time. If no duration is provided, DefaultTimeout is used.
func Timeout(timeout ...time.Duration) func(http.Handler) http.Handler {
	var duration time.Duration
	if len(timeout) > 0 {
		duration = timeout[0]
	} else {
		duration = DefaultTimeout
	}

	return timeoutWithDuration(duration)
}

func timeoutWithDuration(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{
				ResponseWriter: w,
				done:           done,
			}

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()

				// Once the handler started writing, the response is
				// already on the wire and can only be truncated.
				if !tw.wroteHeader {
					tw.wroteHeader = true
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte(`{"error":{"code":"unavailable","message":"Request timed out"}}`))
				}
			}
		})
	}
}

// timeoutWriter tracks whether headers were written so the timeout branch
// never races the handler on the same ResponseWriter.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	done        chan struct{}
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.wroteHeader {
		return
	}

	select {
	case <-tw.done:
		return
	default:
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	select {
	case <-tw.done:
		return 0, context.DeadlineExceeded
	default:
		if !tw.wroteHeader {
			tw.wroteHeader = true
			tw.ResponseWriter.WriteHeader(http.StatusOK)
		}
		return tw.ResponseWriter.Write(b)
	}
}
