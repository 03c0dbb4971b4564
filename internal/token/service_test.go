package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/genesis-music/auth-service/internal/audit"
	"github.com/genesis-music/auth-service/internal/ledger"
)

type stubDirectory struct {
	users map[uuid.UUID]Identity
}

func (d *stubDirectory) Lookup(_ context.Context, userID uuid.UUID) (*Identity, error) {
	id, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &id, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *capturePublisher) Publish(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) HealthCheck(context.Context) error { return nil }
func (p *capturePublisher) Close() error                      { return nil }

func (p *capturePublisher) has(eventType audit.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	svc    *Service
	mr     *miniredis.Miniredis
	dir    *stubDirectory
	events *capturePublisher
	id     Identity
	meta   RequestMeta
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	id := Identity{
		UserID:   uuid.New(),
		Email:    "player@example.com",
		Username: "player1",
		Role:     "user",
	}
	dir := &stubDirectory{users: map[uuid.UUID]Identity{id.UserID: id}}
	events := &capturePublisher{}

	svc, err := NewService(Config{
		Issuer:        testIssuer,
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
	}, ledger.NewRedisLedger(client), dir, events, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &serviceFixture{
		svc:    svc,
		mr:     mr,
		dir:    dir,
		events: events,
		id:     id,
		meta:   RequestMeta{IP: "203.0.113.9", UserAgent: "test-agent"},
	}
}

func TestNewServiceConfigValidation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	led := ledger.NewRedisLedger(client)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing access secret", Config{Issuer: testIssuer, RefreshSecret: []byte("r")}},
		{"missing refresh secret", Config{Issuer: testIssuer, AccessSecret: []byte("a")}},
		{"shared secret", Config{Issuer: testIssuer, AccessSecret: []byte("same"), RefreshSecret: []byte("same")}},
		{"missing issuer", Config{AccessSecret: []byte("a"), RefreshSecret: []byte("r")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg, led, nil, nil, nil); err == nil {
				t.Error("NewService should have failed")
			}
		})
	}
}

func TestServiceIssueAndValidate(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if pair.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want %q", pair.TokenType, "bearer")
	}
	if pair.ExpiresIn != int64(DefaultAccessTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64(DefaultAccessTTL.Seconds()))
	}

	got, err := f.svc.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if *got != f.id {
		t.Errorf("identity = %+v, want %+v", *got, f.id)
	}

	if !f.events.has(audit.EventTokenIssued) {
		t.Error("expected a token.issued audit event")
	}
}

func TestServiceRefreshRotates(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	second, err := f.svc.Refresh(ctx, first.RefreshToken, f.meta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("rotation must mint a fresh refresh token")
	}
	if _, err := f.svc.ValidateAccess(second.AccessToken); err != nil {
		t.Errorf("new access token should validate: %v", err)
	}

	// Replaying the consumed token must fail and leave a trail.
	if _, err := f.svc.Refresh(ctx, first.RefreshToken, f.meta); !errors.Is(err, ErrRevoked) {
		t.Errorf("replay = %v, want ErrRevoked", err)
	}
	if !f.events.has(audit.EventReplayDenied) {
		t.Error("expected a token.replay_denied audit event")
	}

	// The rotated-in token is still good.
	if _, err := f.svc.Refresh(ctx, second.RefreshToken, f.meta); err != nil {
		t.Errorf("refresh with rotated token: %v", err)
	}
}

func TestServiceRefreshUnknownToken(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	// Drop the ledger record: a well-signed token with no record is treated
	// as never issued.
	f.mr.FlushAll()

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, f.meta); !errors.Is(err, ErrUnknown) {
		t.Errorf("Refresh = %v, want ErrUnknown", err)
	}
	if !f.events.has(audit.EventReplayDenied) {
		t.Error("expected a token.replay_denied audit event")
	}
}

func TestServiceRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	// Access tokens are signed with a different secret; presenting one on
	// the refresh path is a signature failure, not a lookup miss.
	if _, err := f.svc.Refresh(ctx, pair.AccessToken, f.meta); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Refresh(access token) = %v, want ErrSignatureInvalid", err)
	}
}

func TestServiceRefreshFailsClosedWhenLedgerDown(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	f.mr.Close()

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, f.meta); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Refresh with ledger down = %v, want ErrStoreUnavailable", err)
	}
}

func TestServiceRefreshDeactivatedUser(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	delete(f.dir.users, f.id.UserID)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, f.meta); !errors.Is(err, ErrUnknown) {
		t.Errorf("Refresh for deactivated user = %v, want ErrUnknown", err)
	}
}

func TestServiceRevokeUser(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	second, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if err := f.svc.RevokeUser(ctx, f.id.UserID, f.meta); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}

	for _, credential := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, credential, f.meta); !errors.Is(err, ErrRevoked) {
			t.Errorf("Refresh after RevokeUser = %v, want ErrRevoked", err)
		}
	}
	if !f.events.has(audit.EventTokenRevoked) {
		t.Error("expected a token.revoked audit event")
	}
}

func TestServiceRevokeToken(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if err := f.svc.RevokeToken(ctx, pair.RefreshToken, f.meta); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, f.meta); !errors.Is(err, ErrRevoked) {
		t.Errorf("Refresh after RevokeToken = %v, want ErrRevoked", err)
	}

	// Revoking a token with no record reports ErrUnknown.
	f.mr.FlushAll()
	if err := f.svc.RevokeToken(ctx, pair.RefreshToken, f.meta); !errors.Is(err, ErrUnknown) {
		t.Errorf("RevokeToken without record = %v, want ErrUnknown", err)
	}
}

func TestServiceExpiredAccessStillRefreshes(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	// Issue a pair backdated past the access lifetime but well inside the
	// refresh lifetime.
	f.svc.now = func() time.Time { return time.Now().Add(-DefaultAccessTTL - time.Minute) }
	pair, err := f.svc.IssuePair(ctx, f.id, f.meta)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	f.svc.now = time.Now

	if _, err := f.svc.ValidateAccess(pair.AccessToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("ValidateAccess = %v, want ErrExpired", err)
	}

	fresh, err := f.svc.Refresh(ctx, pair.RefreshToken, f.meta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got, err := f.svc.ValidateAccess(fresh.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess on fresh token: %v", err)
	}
	if got.Role != "user" {
		t.Errorf("Role = %q, want %q", got.Role, "user")
	}
}
