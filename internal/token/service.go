package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genesis-music/auth-service/internal/audit"
	"github.com/genesis-music/auth-service/internal/ledger"
)

const (
	// DefaultAccessTTL is the access token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultLedgerTimeout bounds every ledger round-trip made by the service.
	DefaultLedgerTimeout = 2 * time.Second
)

// RequestMeta carries request provenance stored alongside refresh records
// for audit and selective revocation.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Directory resolves a user ID to the profile fields stamped into access
// tokens. It is backed by the platform's user store, which lives outside
// this service.
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*Identity, error)
}

// ErrUserNotFound is returned by Directory implementations when the user
// no longer exists or is inactive.
var ErrUserNotFound = errors.New("user not found")

// Config holds the token service inputs. Both secrets are required and must
// differ; a missing secret is a deployment error, never silently defaulted.
type Config struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LedgerTimeout time.Duration
}

// Service issues and rotates access/refresh pairs and consults the ledger
// for revocation state. It holds no mutable state; all cross-request
// coordination happens through the ledger.
type Service struct {
	access        *Codec
	refresh       *Codec
	ledger        ledger.Ledger
	directory     Directory
	events        audit.Publisher
	logger        *zap.Logger
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	ledgerTimeout time.Duration

	now func() time.Time
}

// NewService validates the configuration and builds a token service.
func NewService(cfg Config, led ledger.Ledger, dir Directory, events audit.Publisher, logger *zap.Logger) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	if led == nil {
		return nil, errors.New("token: ledger is required")
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	if events == nil {
		events = audit.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	access, err := NewCodec(cfg.AccessSecret, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	refresh, err := NewCodec(cfg.RefreshSecret, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	return &Service{
		access:        access,
		refresh:       refresh,
		ledger:        led,
		directory:     dir,
		events:        events,
		logger:        logger,
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		ledgerTimeout: cfg.LedgerTimeout,
		now:           time.Now,
	}, nil
}

// IssuePair mints an access/refresh pair for the identity and records the
// refresh token in the ledger. If the ledger write fails the pair is not
// returned: a refresh token with no record could never be rotated.
func (s *Service) IssuePair(ctx context.Context, id Identity, meta RequestMeta) (*Pair, error) {
	now := s.now()

	accessClaims := AccessClaims{
		UserID:   id.UserID,
		Email:    id.Email,
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   id.UserID.String(),
		},
	}
	accessToken, err := s.access.Encode(accessClaims)
	if err != nil {
		return nil, err
	}

	refreshClaims := RefreshClaims{
		UserID: id.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   id.UserID.String(),
		},
	}
	refreshToken, err := s.refresh.Encode(refreshClaims)
	if err != nil {
		return nil, err
	}

	rec := &ledger.RefreshRecord{
		ID:        uuid.New(),
		UserID:    id.UserID,
		TokenHash: ledger.HashToken(refreshToken),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}

	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	if err := s.ledger.Create(lctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.emit(ctx, audit.EventTokenIssued, id.UserID, meta)

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// ValidateAccess verifies an access credential and projects its claims into
// an Identity. Verification is purely cryptographic; no store round-trip.
func (s *Service) ValidateAccess(credential string) (*Identity, error) {
	claims, err := s.access.DecodeAccess(credential)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// Refresh exchanges a refresh credential for a new pair and revokes the
// consumed record (rotation), so a leaked refresh token is good for at most
// one use. Ledger failures reject the refresh: issuing a pair on stale
// revocation state is worse than a retryable error.
func (s *Service) Refresh(ctx context.Context, credential string, meta RequestMeta) (*Pair, error) {
	claims, err := s.refresh.DecodeRefresh(credential)
	if err != nil {
		return nil, err
	}

	tokenHash := ledger.HashToken(credential)

	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	rec, err := s.ledger.Find(lctx, tokenHash)
	if errors.Is(err, ledger.ErrNotFound) {
		s.emit(ctx, audit.EventReplayDenied, claims.UserID, meta)
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec.UserID != claims.UserID {
		// A record keyed by this token but owned by another user means the
		// ledger and the credential disagree; treat as never issued.
		return nil, ErrUnknown
	}
	if rec.Revoked {
		s.emit(ctx, audit.EventReplayDenied, claims.UserID, meta)
		return nil, ErrRevoked
	}

	id, err := s.lookupIdentity(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	pair, err := s.IssuePair(ctx, *id, meta)
	if err != nil {
		return nil, err
	}

	rctx, rcancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer rcancel()
	if err := s.ledger.Revoke(rctx, tokenHash); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		// The new pair is already out. Surface the failure loudly; the old
		// token stays usable until the next refresh attempt or expiry.
		s.logger.Error("failed_to_revoke_rotated_refresh_token",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err),
		)
	}

	s.emit(ctx, audit.EventTokenRefreshed, claims.UserID, meta)

	return pair, nil
}

// RevokeToken revokes the ledger record for a single refresh credential.
func (s *Service) RevokeToken(ctx context.Context, credential string, meta RequestMeta) error {
	claims, err := s.refresh.DecodeRefresh(credential)
	if err != nil {
		return err
	}

	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	err = s.ledger.Revoke(lctx, ledger.HashToken(credential))
	if errors.Is(err, ledger.ErrNotFound) {
		return ErrUnknown
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.emit(ctx, audit.EventTokenRevoked, claims.UserID, meta)
	return nil
}

// RevokeUser revokes every active refresh record for a user. This is the
// logout and administrative path: discarding the client-side token alone
// would leave a captured refresh token valid until natural expiry.
func (s *Service) RevokeUser(ctx context.Context, userID uuid.UUID, meta RequestMeta) error {
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	if err := s.ledger.RevokeAllForUser(lctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.emit(ctx, audit.EventTokenRevoked, userID, meta)
	return nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

func (s *Service) lookupIdentity(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	if s.directory == nil {
		return nil, fmt.Errorf("%w: no user directory configured", ErrStoreUnavailable)
	}
	id, err := s.directory.Lookup(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		// Deleted or deactivated account; its refresh tokens are dead.
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

// emit publishes an audit event without letting broker trouble affect the
// auth path.
func (s *Service) emit(ctx context.Context, eventType audit.EventType, userID uuid.UUID, meta RequestMeta) {
	event := audit.NewEvent(eventType, userID, meta.IP, meta.UserAgent)
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed_to_publish_audit_event",
			zap.String("event_type", string(eventType)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}
