package middleware

import (
	"net/http"
	"strings"
)

// ContentType rejects body-carrying requests that are not JSON. Every
// endpoint on this service speaks JSON; anything else is a client bug.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				respondError(w, http.StatusBadRequest, "Content-Type header is required")
				return
			}
			// Accept charset suffixes like application/json; charset=utf-8.
			if !strings.HasPrefix(strings.ToLower(contentType), "application/json") {
				respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
