package token

import "errors"

// Validation failures are distinguishable so the middleware and the refresh
// handler can map them to the right HTTP status without string matching.
var (
	// ErrMalformed means the credential is not a parseable token at all.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid means the signature does not verify under the
	// configured secret.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrAlgorithmMismatch means the token was signed with an algorithm
	// outside the expected HMAC family.
	ErrAlgorithmMismatch = errors.New("token signing algorithm mismatch")
	// ErrExpired means the token verified but its expiry has passed.
	ErrExpired = errors.New("token expired")

	// ErrRevoked means the refresh token's ledger record has been revoked
	// (logout, admin revocation, or rotation replay).
	ErrRevoked = errors.New("refresh token revoked")
	// ErrUnknown means no ledger record exists for the refresh token: it was
	// never issued by this service or was already consumed and purged.
	ErrUnknown = errors.New("refresh token unknown")
	// ErrStoreUnavailable means the ledger could not be reached. Refresh
	// fails closed on this error.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// IsValidationError reports whether err is one of the token-validation
// failures that map to 401. Anything else is an internal fault.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrAlgorithmMismatch) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrUnknown)
}
