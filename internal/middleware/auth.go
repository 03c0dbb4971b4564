package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	logpkg "github.com/genesis-music/auth-service/internal/logger"
	"github.com/genesis-music/auth-service/internal/request"
	"github.com/genesis-music/auth-service/internal/token"
)

// TokenValidator verifies an access credential and returns the identity it
// carries. Satisfied by *token.Service.
type TokenValidator interface {
	ValidateAccess(credential string) (*token.Identity, error)
}

// Auth creates the authentication gate for protected routes. It extracts the
// bearer credential, validates it locally (no store round-trip), and attaches
// the resulting Identity to the request context. Every validation failure
// terminates the request before downstream handlers run.
func Auth(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			id, err := tokens.ValidateAccess(parts[1])
			if err != nil {
				switch {
				case errors.Is(err, token.ErrExpired):
					respondError(w, http.StatusUnauthorized, "Token expired")
				case token.IsValidationError(err):
					respondError(w, http.StatusUnauthorized, "Invalid token")
				default:
					logger.Error("access_token_validation_failed",
						zap.String("path", logpkg.SanitizePath(r.URL.Path)),
						zap.Error(err),
					)
					respondError(w, http.StatusInternalServerError, "Internal Server Error")
				}
				return
			}

			ctx := request.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on the identity's role field, the sole input for
// authorization decisions after authentication.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := request.IdentityFromContext(r)
			if id == nil {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}
			if id.Role != role {
				respondError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}
	_ = json.NewEncoder(w).Encode(response)
}
