package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Codec signs and verifies token claim sets with a single HMAC-SHA256 secret.
// Access and refresh tokens use two separate Codec instances built from
// distinct secrets, so possession of one secret never grants decoding power
// over the other token class. Codec is stateless and safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
}

// NewCodec creates a codec bound to the given signing secret and issuer.
func NewCodec(secret []byte, issuer string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret must not be empty")
	}
	if issuer == "" {
		return nil, errors.New("token: issuer must not be empty")
	}
	return &Codec{secret: secret, issuer: issuer}, nil
}

// Encode serializes and signs a claim set with HMAC-SHA256.
func (c *Codec) Encode(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// DecodeAccess verifies a credential and returns its access claims.
func (c *Codec) DecodeAccess(credential string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.decode(credential, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// DecodeRefresh verifies a credential and returns its refresh claims.
func (c *Codec) DecodeRefresh(credential string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.decode(credential, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) decode(credential string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)

	tok, err := parser.ParseWithClaims(credential, claims, c.keyfunc)
	if err != nil {
		return mapParseError(err)
	}
	if !tok.Valid {
		return ErrSignatureInvalid
	}
	return nil
}

// keyfunc rejects any token whose signing algorithm is outside the HMAC
// family before the key is ever handed to the verifier. This guards against
// algorithm-confusion downgrades (e.g. alg=none or an RSA public key being
// replayed as an HMAC secret).
func (c *Codec) keyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: got %q", ErrAlgorithmMismatch, t.Method.Alg())
	}
	return c.secret, nil
}

// mapParseError translates jwt/v5 sentinel errors into the package's typed
// failure kinds. Order matters: the algorithm guard fires inside the keyfunc
// and must win over the generic unverifiable wrapper.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrAlgorithmMismatch):
		return ErrAlgorithmMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		// Issuer mismatch, missing exp, and other claim-shape problems mean
		// this was never a credential we issued.
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
