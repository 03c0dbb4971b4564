package middleware

import (
	"context"
	"net/http"
	"time"
)

// DefaultRequestTimeout caps handler time when no explicit timeout is given.
const DefaultRequestTimeout = 30 * time.Second

// Timeout bounds each request. Handler work past the deadline gets a 503 and
// the request context is cancelled so ledger and store calls unwind too.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			handler := http.TimeoutHandler(next, timeout, `{"success":false,"error":"Request timed out"}`)
			handler.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
