package middleware

import (
	"net/http"
)

// DefaultMaxRequestSize caps request bodies. Token exchange payloads are a
// few hundred bytes; 1MB leaves generous headroom.
const DefaultMaxRequestSize int64 = 1 << 20

// MaxRequestSize rejects oversized bodies before handlers read them.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}

			// Guard against bodies sent without Content-Length as well.
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			defer func() { _ = r.Body.Close() }()

			next.ServeHTTP(w, r)
		})
	}
}
