package request

import (
	"context"
	"net/http"
	"strings"

	"github.com/genesis-music/auth-service/internal/token"
)

type contextKey string

const identityContextKey contextKey = "identity"

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// WithIdentity returns a context with the validated identity attached.
func WithIdentity(ctx context.Context, id *token.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the identity attached by the auth middleware,
// or nil if the request is unauthenticated.
func IdentityFromContext(r *http.Request) *token.Identity {
	id, _ := r.Context().Value(identityContextKey).(*token.Identity)
	return id
}
