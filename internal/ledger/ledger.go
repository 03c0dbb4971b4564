// Package ledger persists refresh-token records for rotation and revocation
// bookkeeping. The Token Service is the only writer; everything else is
// read-only against the store.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for a token hash.
var ErrNotFound = errors.New("refresh record not found")

// RefreshRecord is the persisted ledger row for one issued refresh token.
// The raw token value is never stored, only its SHA-256 hash.
type RefreshRecord struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	TokenHash string     `json:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	IP        string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
}

// Active reports whether the record can still be exchanged for a new pair.
func (r *RefreshRecord) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// HashToken returns the hex-encoded SHA-256 digest of a raw token string.
// Storing the digest keeps a leaked ledger from yielding usable credentials.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Ledger is the storage contract for refresh records.
type Ledger interface {
	// Create stores a new record. The implementation may expire it
	// automatically once ExpiresAt passes.
	Create(ctx context.Context, rec *RefreshRecord) error

	// Find returns the record for a token hash, or ErrNotFound.
	Find(ctx context.Context, tokenHash string) (*RefreshRecord, error)

	// Revoke marks the record for a token hash revoked. Revoking an already
	// revoked record is not an error; a missing record is ErrNotFound.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeAllForUser revokes every active record belonging to a user.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
