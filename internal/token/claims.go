package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the claim set carried by short-lived access tokens.
type AccessClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set carried by refresh tokens. It deliberately
// omits email/username/role so a captured refresh token reveals no profile
// data and cannot be used without a ledger check.
type RefreshClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity is the validated projection of AccessClaims attached to a request.
// It lives for the duration of a single request and is the sole input for
// downstream authorization decisions.
type Identity struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}

// Pair is an access/refresh token pair as returned to clients.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
