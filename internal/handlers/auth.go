package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	logpkg "github.com/genesis-music/auth-service/internal/logger"
	"github.com/genesis-music/auth-service/internal/request"
	"github.com/genesis-music/auth-service/internal/token"
	"github.com/genesis-music/auth-service/internal/validation"
)

// AuthHandler handles the token lifecycle endpoints.
type AuthHandler struct {
	tokens *token.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(tokens *token.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

// RegisterPublicRoutes registers routes that do not require authentication.
// The router should already have the /api/v1/auth prefix.
func (h *AuthHandler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")
}

// RegisterProtectedRoutes registers routes behind the auth middleware.
func (h *AuthHandler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/logout", h.Logout).Methods("POST")
	r.HandleFunc("/me", h.GetMe).Methods("GET")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,jwt"`
}

// Refresh exchanges a refresh token for a new access/refresh pair. Expired,
// invalid, revoked, and unknown tokens all produce the same 401 so callers
// cannot probe the ledger; the precise kind is logged server-side.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.Validate.Struct(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	meta := token.RequestMeta{IP: request.ClientIP(r), UserAgent: r.UserAgent()}
	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken, meta)
	if err != nil {
		switch {
		case token.IsValidationError(err):
			h.logger.Warn("refresh_denied",
				zap.String("reason", err.Error()),
				zap.String("ip", logpkg.SanitizeString(meta.IP, logpkg.MaxGeneralStringLength)),
			)
			respondJSONError(w, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, token.ErrStoreUnavailable):
			// Fail closed: issuing a pair without a ledger check is worse
			// than asking the client to retry.
			h.logger.Error("refresh_ledger_unavailable", zap.Error(err))
			respondJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.Error("refresh_failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

// Logout revokes every active refresh record for the authenticated user.
// Discarding the client-side token alone would leave a captured refresh
// token valid until natural expiry.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := request.IdentityFromContext(r)
	if id == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	meta := token.RequestMeta{IP: request.ClientIP(r), UserAgent: r.UserAgent()}
	if err := h.tokens.RevokeUser(r.Context(), id.UserID, meta); err != nil {
		h.logger.Error("logout_revocation_failed",
			zap.String("user_id", id.UserID.String()),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// GetMe returns the authenticated identity.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := request.IdentityFromContext(r)
	if id == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	respondJSON(w, http.StatusOK, id)
}
